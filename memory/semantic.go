package memory

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/types"
)

// VectorIndex is the semantic tier contract: insert turn embeddings, recall
// nearest neighbors scoped to one user.
type VectorIndex interface {
	// Add indexes one turn's content under its embedding. title is the
	// conversation title surfaced alongside recalled matches.
	Add(ctx context.Context, id, userID, conversationID, role, title, content string, embedding []float32) error

	// Query returns up to topK matches for the query embedding, restricted
	// to the user and filtered to score >= threshold, best first.
	Query(ctx context.Context, userID string, embedding []float32, topK int, threshold float32) ([]types.SemanticMatch, error)

	// DeleteUser removes every document belonging to a user.
	DeleteUser(ctx context.Context, userID string) error
}

// ChromemIndex is the embedded vector index over chromem-go. One collection
// holds all turns; per-user scoping happens through a metadata filter.
type ChromemIndex struct {
	collection *chromem.Collection
	logger     *zap.Logger
}

const turnCollection = "turns"

// NewChromemIndex opens the index, persisting to cfg.PersistDir when set.
func NewChromemIndex(cfg config.VectorConfig, logger *zap.Logger) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistDir != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistDir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db at %s: %w", cfg.PersistDir, err)
		}
	} else {
		db = chromem.NewDB()
	}

	// No embedding function: callers always supply precomputed embeddings.
	col, err := db.GetOrCreateCollection(turnCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", turnCollection, err)
	}

	return &ChromemIndex{
		collection: col,
		logger:     logger.With(zap.String("tier", "semantic")),
	}, nil
}

func (idx *ChromemIndex) Add(ctx context.Context, id, userID, conversationID, role, title, content string, embedding []float32) error {
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]string{
			"user_id":            userID,
			"conversation_id":    conversationID,
			"role":               role,
			"conversation_title": title,
		},
	}
	if err := idx.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index turn %s: %w", id, err)
	}
	return nil
}

func (idx *ChromemIndex) Query(ctx context.Context, userID string, embedding []float32, topK int, threshold float32) ([]types.SemanticMatch, error) {
	// chromem rejects n larger than the collection size.
	if count := idx.collection.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return []types.SemanticMatch{}, nil
	}

	results, err := idx.collection.QueryEmbedding(ctx, embedding, topK,
		map[string]string{"user_id": userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	matches := make([]types.SemanticMatch, 0, len(results))
	for _, res := range results {
		if res.Similarity < threshold {
			continue
		}
		matches = append(matches, types.SemanticMatch{
			Content:  res.Content,
			Metadata: res.Metadata,
			Score:    res.Similarity,
		})
	}
	return matches, nil
}

func (idx *ChromemIndex) DeleteUser(ctx context.Context, userID string) error {
	err := idx.collection.Delete(ctx, map[string]string{"user_id": userID}, nil)
	if err != nil {
		return fmt.Errorf("delete vectors for %s: %w", userID, err)
	}
	return nil
}

// NoopIndex is the VectorIndex used when the semantic tier is disabled.
// Writes vanish, queries return nothing.
type NoopIndex struct{}

func (NoopIndex) Add(context.Context, string, string, string, string, string, string, []float32) error {
	return nil
}

func (NoopIndex) Query(context.Context, string, []float32, int, float32) ([]types.SemanticMatch, error) {
	return []types.SemanticMatch{}, nil
}

func (NoopIndex) DeleteUser(context.Context, string) error { return nil }

// NewVectorIndex returns the configured index implementation.
func NewVectorIndex(cfg config.VectorConfig, logger *zap.Logger) (VectorIndex, error) {
	if !cfg.Enabled {
		return NoopIndex{}, nil
	}
	return NewChromemIndex(cfg, logger)
}
