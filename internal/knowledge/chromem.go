package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps everything
	// in memory (tests, development).
	Path string

	// Collection is the collection name. Default: "agentd_knowledge".
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "agentd_knowledge"
	}
}

// ChromemStore implements Store on chromem-go, an embeddable pure-Go vector
// database. No external service is required; persistence is optional.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewChromemStore creates the store and its backing collection.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, localEmbedding())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("knowledge store initialized",
		zap.String("collection", cfg.Collection),
		zap.Bool("persistent", cfg.Path != ""),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		logger:     logger,
	}, nil
}

// AddFact indexes a fact document directly. Used by seeding and tests; the
// ingestion pipeline proper is an external collaborator.
func (s *ChromemStore) AddFact(ctx context.Context, fact contextstore.Fact) error {
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:      fact.ID,
		Content: fact.Content,
		Metadata: map[string]string{
			"source":     fact.Source,
			"confidence": strconv.FormatFloat(fact.Confidence, 'f', 4, 64),
		},
	})
}

// Search returns the topK most similar facts, scored by cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, query string, topK int) ([]contextstore.Fact, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: store is closed", ErrUnavailable)
	}
	s.mu.Unlock()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	facts := make([]contextstore.Fact, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		fact := contextstore.Fact{
			ID:         r.ID,
			Content:    r.Content,
			Confidence: score,
			Source:     r.Metadata["source"],
		}
		// Indexed confidence takes precedence over geometric similarity.
		if raw, ok := r.Metadata["confidence"]; ok {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				fact.Confidence = parsed
			}
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// Write records a conversation turn as a retrievable document.
func (s *ChromemStore) Write(ctx context.Context, turn contextstore.Turn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: store is closed", ErrUnavailable)
	}
	s.mu.Unlock()

	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      uuid.New().String(),
		Content: turn.Content,
		Metadata: map[string]string{
			"source": "conversation",
			"role":   string(turn.Role),
			"ts":     turn.Timestamp.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close marks the store closed. chromem persists synchronously, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
