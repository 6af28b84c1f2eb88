package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StoredProfile is the persisted part of a user profile
type StoredProfile struct {
	UserID      string                 `json:"user_id"`
	Name        string                 `json:"name,omitempty"`
	Email       string                 `json:"email,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Store reads stored user data. GetProfile returns nil, nil for unknown users.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*StoredProfile, error)
}

// SQLiteStore implements Store on the shared SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the profile table if needed
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT,
		email TEXT,
		preferences TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetProfile loads the stored profile of userID
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*StoredProfile, error) {
	query := `SELECT user_id, name, email, preferences, updated_at FROM user_profiles WHERE user_id = ?`

	var (
		p     StoredProfile
		name  sql.NullString
		email sql.NullString
		prefs string
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &name, &email, &prefs, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	p.Name = name.String
	p.Email = email.String
	if prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences: %w", err)
		}
	}

	return &p, nil
}

// UpsertProfile inserts or replaces the stored profile
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *StoredProfile) error {
	if p == nil || p.UserID == "" {
		return errors.New("profile requires a user id")
	}

	prefs := []byte("{}")
	if p.Preferences != nil {
		var err error
		prefs, err = json.Marshal(p.Preferences)
		if err != nil {
			return fmt.Errorf("failed to encode preferences: %w", err)
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO user_profiles (user_id, name, email, preferences, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, p.UserID, p.Name, p.Email, string(prefs), p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
