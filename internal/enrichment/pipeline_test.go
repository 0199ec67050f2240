package enrichment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/knowledge"
)

// slowStore blocks until the context is cancelled.
type slowStore struct{}

func (s *slowStore) Search(ctx context.Context, _ string, _ int) ([]contextstore.Fact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *slowStore) Write(context.Context, contextstore.Turn) error { return nil }
func (s *slowStore) Close() error                                   { return nil }

func newEnrichContext() *contextstore.EnterpriseContext {
	return contextstore.New("wf-1", "run-1", "conv-1", "concierge",
		contextstore.SecurityContext{Identity: "alice"}, time.Now().UTC())
}

func TestEnrichReplacesSemanticLayer(t *testing.T) {
	store := knowledge.NewStaticStore([]contextstore.Fact{
		{ID: "f2", Content: "second", Confidence: 0.85, Source: "kb/2"},
		{ID: "f1", Content: "first", Confidence: 0.92, Source: "kb/1"},
		{ID: "f3", Content: "third", Confidence: 0.10, Source: "kb/3"},
	})
	cfg := DefaultConfig()
	cfg.TopK = 2
	pipeline := NewPipeline(store, cfg, nil)

	ec := newEnrichContext()
	ec.Semantic.Replace("old query", []contextstore.Fact{{ID: "stale"}}, time.Now().UTC())

	result := pipeline.Enrich(context.Background(), ec, "budget", time.Now().UTC())

	require.False(t, result.Degraded)
	require.Len(t, ec.Semantic.Facts, 2)
	// Sorted descending by confidence, truncated to top-K.
	assert.Equal(t, "f1", ec.Semantic.Facts[0].ID)
	assert.Equal(t, "f2", ec.Semantic.Facts[1].ID)
	assert.Equal(t, "budget", ec.Semantic.LastQuery)
	assert.False(t, ec.Operational.EnrichmentDegraded)
}

func TestEnrichDegradedOnError(t *testing.T) {
	store := knowledge.NewStaticStore(nil)
	store.Err = errors.New("connection refused to 10.0.0.5:6333")
	pipeline := NewPipeline(store, DefaultConfig(), nil)

	ec := newEnrichContext()
	prior := []contextstore.Fact{{ID: "prior", Confidence: 0.5, Source: "kb/0"}}
	ec.Semantic.Replace("earlier", prior, time.Now().UTC())

	result := pipeline.Enrich(context.Background(), ec, "budget", time.Now().UTC())

	assert.True(t, result.Degraded)
	assert.True(t, ec.Operational.EnrichmentDegraded)
	// Prior semantic layer is untouched.
	assert.Equal(t, prior, ec.Semantic.Facts)
	assert.Equal(t, "earlier", ec.Semantic.LastQuery)
	// No raw provider error text leaks.
	assert.NotContains(t, result.DegradedReason, "10.0.0.5")
}

func TestEnrichDegradedOnTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SearchTimeout = 20 * time.Millisecond
	pipeline := NewPipeline(&slowStore{}, cfg, nil)

	ec := newEnrichContext()
	result := pipeline.Enrich(context.Background(), ec, "budget", time.Now().UTC())

	assert.True(t, result.Degraded)
	assert.Equal(t, "knowledge search timed out", result.DegradedReason)
}

func TestEnrichFoldsWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 3
	pipeline := NewPipeline(knowledge.NewStaticStore(nil), cfg, nil)

	ec := newEnrichContext()
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		ec.Episodic.Append(contextstore.Turn{
			Role:      contextstore.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: now,
		})
	}

	result := pipeline.Enrich(context.Background(), ec, "q", now)

	assert.Equal(t, 4, result.TurnsFolded)
	assert.Len(t, ec.Episodic.RecentTurns, 3)
	assert.Contains(t, ec.Episodic.Summary, "message 0")
	assert.Contains(t, ec.Episodic.Summary, "message 3")
	// The newest turns stay verbatim.
	assert.Equal(t, "message 4", ec.Episodic.RecentTurns[0].Content)
}

// TestWindowBoundProperty injects random turns and checks the recent-turn
// window never exceeds the configured bound after enrichment.
func TestWindowBoundProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		window := 1 + rng.Intn(10)
		cfg := DefaultConfig()
		cfg.WindowSize = window
		cfg.SummaryMaxChars = 512
		pipeline := NewPipeline(knowledge.NewStaticStore(nil), cfg, nil)

		ec := newEnrichContext()
		now := time.Now().UTC()
		turns := rng.Intn(60)

		for i := 0; i < turns; i++ {
			ec.Episodic.Append(contextstore.Turn{
				Role:      contextstore.RoleUser,
				Content:   fmt.Sprintf("turn %d with filler %d", i, rng.Intn(1000)),
				Timestamp: now,
			})
			if rng.Intn(3) == 0 {
				pipeline.Enrich(context.Background(), ec, "q", now)
				assert.LessOrEqual(t, len(ec.Episodic.RecentTurns), window,
					"window=%d trial=%d", window, trial)
				assert.LessOrEqual(t, len(ec.Episodic.Summary), cfg.SummaryMaxChars+128,
					"summary growth must stay bounded")
			}
		}

		pipeline.Enrich(context.Background(), ec, "q", now)
		assert.LessOrEqual(t, len(ec.Episodic.RecentTurns), window)
	}
}

func TestCompactorNoopUnderBound(t *testing.T) {
	c := NewCompactor(5, 1024)
	ep := contextstore.EpisodicState{}
	ep.Append(contextstore.Turn{Role: contextstore.RoleUser, Content: "one", Timestamp: time.Now()})

	assert.Zero(t, c.Fold(&ep))
	assert.Empty(t, ep.Summary)
	assert.Len(t, ep.RecentTurns, 1)
}

func TestFoldKeepsSummaryValidUTF8(t *testing.T) {
	c := NewCompactor(0, 0)
	ep := contextstore.EpisodicState{}
	// Multi-byte runes positioned so a byte-count cut would split one.
	content := "a" + strings.Repeat("€", 60)
	ep.Append(contextstore.Turn{Role: contextstore.RoleUser, Content: content, Timestamp: time.Now()})

	c.Fold(&ep)

	assert.True(t, utf8.ValidString(ep.Summary))
	assert.NotContains(t, ep.Summary, "�")
	assert.Contains(t, ep.Summary, "€")
}

func TestCondenseBoundsSummary(t *testing.T) {
	c := NewCompactor(1, 256)
	ep := contextstore.EpisodicState{}
	now := time.Now().UTC()
	for i := 0; i < 40; i++ {
		ep.Append(contextstore.Turn{
			Role:      contextstore.RoleAssistant,
			Content:   fmt.Sprintf("a fairly long assistant reply number %d that keeps going and going", i),
			Timestamp: now,
		})
		c.Fold(&ep)
	}

	assert.LessOrEqual(t, len(ep.Summary), 256+128)
	assert.Len(t, ep.RecentTurns, 1)
}
