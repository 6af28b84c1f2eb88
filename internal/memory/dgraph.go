package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quantumflow/nevra/internal/models"
)

const knowledgeSchema = `
	type Knowledge {
		knowledge.id
		knowledge.user
		knowledge.intent
		knowledge.framework
		knowledge.components
		knowledge.summary
		knowledge.quality
		knowledge.created
	}

	knowledge.id: string @index(exact) @upsert .
	knowledge.user: string @index(exact) .
	knowledge.intent: string @index(exact) .
	knowledge.framework: string @index(exact) .
	knowledge.components: [string] @index(exact) .
	knowledge.summary: string .
	knowledge.quality: float .
	knowledge.created: datetime @index(hour) .
`

// DgraphKnowledgeStore appends knowledge records to a Dgraph cluster
type DgraphKnowledgeStore struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// knowledgeNode is the JSON shape of a Knowledge node
type knowledgeNode struct {
	UID        string    `json:"uid,omitempty"`
	ID         string    `json:"knowledge.id"`
	UserID     string    `json:"knowledge.user"`
	Intent     string    `json:"knowledge.intent"`
	Framework  string    `json:"knowledge.framework,omitempty"`
	Components []string  `json:"knowledge.components,omitempty"`
	Summary    string    `json:"knowledge.summary"`
	Quality    float64   `json:"knowledge.quality"`
	Created    time.Time `json:"knowledge.created"`
	DType      []string  `json:"dgraph.type,omitempty"`
}

// NewDgraphKnowledgeStore connects to the Dgraph alpha gRPC endpoint at addr
// and installs the schema
func NewDgraphKnowledgeStore(ctx context.Context, addr string) (*DgraphKnowledgeStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	store := &DgraphKnowledgeStore{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}

	// Initialize schema
	if err := store.client.Alter(ctx, &api.Operation{Schema: knowledgeSchema}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// SaveKnowledge appends a knowledge record
func (s *DgraphKnowledgeStore) SaveKnowledge(ctx context.Context, record *models.KnowledgeRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("knowledge record requires an id")
	}

	data, err := json.Marshal(knowledgeNode{
		UID:        "_:k",
		ID:         record.ID,
		UserID:     userKey(record.UserID),
		Intent:     string(record.Intent),
		Framework:  record.Framework,
		Components: record.Components,
		Summary:    record.Summary,
		Quality:    record.QualityScore,
		Created:    record.CreatedAt,
		DType:      []string{"Knowledge"},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge record: %w", err)
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: data, CommitNow: true}); err != nil {
		return fmt.Errorf("failed to store knowledge record: %w", err)
	}
	return nil
}

// ListKnowledge returns a user's records, newest first
func (s *DgraphKnowledgeStore) ListKnowledge(ctx context.Context, userID string, limit int) ([]*models.KnowledgeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	q := `query records($user: string, $first: int) {
		records(func: eq(knowledge.user, $user), orderdesc: knowledge.created, first: $first) {
			knowledge.id
			knowledge.user
			knowledge.intent
			knowledge.framework
			knowledge.components
			knowledge.summary
			knowledge.quality
			knowledge.created
		}
	}`

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{
		"$user":  userKey(userID),
		"$first": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var result struct {
		Records []knowledgeNode `json:"records"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	records := make([]*models.KnowledgeRecord, len(result.Records))
	for i, n := range result.Records {
		records[i] = &models.KnowledgeRecord{
			ID:           n.ID,
			UserID:       userID,
			Intent:       models.Intent(n.Intent),
			Framework:    n.Framework,
			Components:   n.Components,
			Summary:      n.Summary,
			QualityScore: n.Quality,
			CreatedAt:    n.Created,
		}
	}
	return records, nil
}

// Close closes the Dgraph connection
func (s *DgraphKnowledgeStore) Close() error {
	return s.conn.Close()
}
