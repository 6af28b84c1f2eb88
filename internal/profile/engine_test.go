package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/storage"
)

type failingStore struct{}

func (failingStore) GetProfile(context.Context, string) (*StoredProfile, error) {
	return nil, errors.New("disk on fire")
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "nevra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func user(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func TestLoadProfile_GuestHasNoProfile(t *testing.T) {
	e := NewEngine(nil, nil)
	p, err := e.LoadProfile(context.Background(), "", []models.Message{user("hi")})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLoadProfile_NoStoreUsesHistory(t *testing.T) {
	e := NewEngine(nil, nil)
	history := []models.Message{
		user("build a navbar with react and tailwind"),
		{Role: models.RoleAssistant, Content: "done, here is a vue and bootstrap version too"},
		user("add a footer with react"),
		user("fix the bug in the react footer"),
	}

	p, err := e.LoadProfile(context.Background(), "u1", history)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, 3, p.History.MessageCount)
	assert.Equal(t, "react", p.History.PreferredFramework)
	assert.Equal(t, "tailwind", p.History.PreferredStyle)
	assert.Contains(t, p.History.CommonIntents, models.IntentDebug)
	assert.InDelta(t, 1.0, p.History.AverageComplexity, 1e-9)
	assert.True(t, p.Behavior.PrefersCode)
	assert.False(t, p.Behavior.PrefersExplanation)
	assert.Equal(t, models.DetailLow, p.Behavior.DetailLevel)
}

func TestLoadProfile_StoreFailureDegrades(t *testing.T) {
	logger := logging.NewTestLogger()
	e := NewEngine(failingStore{}, logger.Logger)

	p, err := e.LoadProfile(context.Background(), "u1", []models.Message{user("explain closures")})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Empty(t, p.Name)
	assert.True(t, p.Behavior.PrefersExplanation)
	logger.AssertLogged(t, zapcore.WarnLevel, "failed to load stored profile")
}

func TestLoadProfile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(nil, nil).LoadProfile(ctx, "u1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadProfile_StoredPreferencesOverride(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfile(ctx, &StoredProfile{
		UserID: "u1",
		Name:   "Ayu",
		Email:  "ayu@example.com",
		Preferences: map[string]interface{}{
			PrefDetailLevel: "high",
			PrefFramework:   "Svelte",
			PrefPrefersCode: false,
		},
	}))

	p, err := NewEngine(store, nil).LoadProfile(ctx, "u1", []models.Message{user("make a button")})
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "Ayu", p.Name)
	assert.Equal(t, "ayu@example.com", p.Email)
	assert.Equal(t, models.DetailHigh, p.Behavior.DetailLevel)
	assert.True(t, p.FavorsDetail())
	assert.Equal(t, "svelte", p.History.PreferredFramework)
	assert.False(t, p.Behavior.PrefersCode)
	assert.True(t, p.Behavior.PrefersExplanation)
}

func TestSQLiteStore_UnknownUser(t *testing.T) {
	store := newSQLiteStore(t)

	p, err := store.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLiteStore_Upsert(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfile(ctx, &StoredProfile{UserID: "u1", Name: "first"}))
	require.NoError(t, store.UpsertProfile(ctx, &StoredProfile{UserID: "u1", Name: "second"}))

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "second", p.Name)
	assert.Empty(t, p.Preferences)

	assert.Error(t, store.UpsertProfile(ctx, &StoredProfile{}))
}

func TestComplexityBucket(t *testing.T) {
	assert.Equal(t, 1, ComplexityBucket(0))
	assert.Equal(t, 1, ComplexityBucket(9))
	assert.Equal(t, 2, ComplexityBucket(10))
	assert.Equal(t, 2, ComplexityBucket(29))
	assert.Equal(t, 3, ComplexityBucket(30))
}

func TestAnalyzeHistory_DetailLevels(t *testing.T) {
	long := ""
	for i := 0; i < 45; i++ {
		long += "word "
	}
	b := deriveBehavior([]models.Message{user(long)}, nil)
	assert.Equal(t, models.DetailHigh, b.DetailLevel)

	b = deriveBehavior([]models.Message{user("one two three four five six seven eight nine ten")}, nil)
	assert.Equal(t, models.DetailMedium, b.DetailLevel)

	b = deriveBehavior(nil, nil)
	assert.Equal(t, models.DetailMedium, b.DetailLevel)
	assert.False(t, b.PrefersCode)
}
