// Package enrichment merges episodic and semantic memory before each
// reasoning step.
//
// The pipeline is best-effort: a slow or failing knowledge store degrades
// the step (stale or empty semantic layer, degraded flag set) instead of
// failing the turn.
package enrichment

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/knowledge"
)

// Config configures the enrichment pipeline.
type Config struct {
	// SearchTimeout bounds each knowledge store search.
	SearchTimeout time.Duration

	// TopK caps the facts kept per retrieval.
	TopK int

	// WindowSize is the episodic recent-turn bound.
	WindowSize int

	// SummaryMaxChars triggers summary re-summarization.
	SummaryMaxChars int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SearchTimeout:   2 * time.Second,
		TopK:            5,
		WindowSize:      20,
		SummaryMaxChars: 4096,
	}
}

// Result reports what one enrichment pass did.
type Result struct {
	// Facts is the retrieved fact set (already applied to the context).
	Facts []contextstore.Fact

	// Degraded is set when retrieval failed and the semantic layer was left
	// at its prior value.
	Degraded bool

	// DegradedReason is the sanitized failure description.
	DegradedReason string

	// TurnsFolded is how many episodic turns were folded into the summary.
	TurnsFolded int
}

// Pipeline enriches an EnterpriseContext before a reasoning step.
type Pipeline struct {
	store     knowledge.Store
	compactor *Compactor
	config    Config
	logger    *zap.Logger
}

// NewPipeline creates an enrichment pipeline over the given knowledge store.
func NewPipeline(store knowledge.Store, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		compactor: NewCompactor(cfg.WindowSize, cfg.SummaryMaxChars),
		config:    cfg,
		logger:    logger,
	}
}

// FoldWindow trims the episodic window down to the configured bound, folding
// removed turns into the summary. It is the same compaction Enrich performs,
// exposed so checkpoints can bound the window mid-turn. Returns the number of
// turns folded.
func (p *Pipeline) FoldWindow(ep *contextstore.EpisodicState) int {
	return p.compactor.Fold(ep)
}

// Enrich folds the episodic window, then replaces the semantic layer with a
// fresh retrieval for the query. On timeout or store error the semantic
// layer keeps its prior value and the step is flagged degraded on the
// operational layer.
func (p *Pipeline) Enrich(ctx context.Context, ec *contextstore.EnterpriseContext, query string, now time.Time) Result {
	result := Result{
		TurnsFolded: p.compactor.Fold(&ec.Episodic),
	}

	searchCtx, cancel := context.WithTimeout(ctx, p.config.SearchTimeout)
	defer cancel()

	facts, err := p.store.Search(searchCtx, query, p.config.TopK)
	if err != nil {
		result.Degraded = true
		result.DegradedReason = degradedReason(searchCtx, err)
		ec.Operational.EnrichmentDegraded = true
		p.logger.Warn("enrichment degraded, keeping prior semantic layer",
			zap.String("workflow_id", ec.WorkflowID),
			zap.String("reason", result.DegradedReason),
		)
		return result
	}

	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].Confidence > facts[j].Confidence
	})
	if len(facts) > p.config.TopK {
		facts = facts[:p.config.TopK]
	}

	ec.Semantic.Replace(query, facts, now)
	ec.Operational.EnrichmentDegraded = false
	result.Facts = facts

	p.logger.Debug("semantic layer replaced",
		zap.String("workflow_id", ec.WorkflowID),
		zap.Int("facts", len(facts)),
		zap.Int("turns_folded", result.TurnsFolded),
	)
	return result
}

// degradedReason maps a search failure to a stable reason string without
// leaking provider internals.
func degradedReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "knowledge search timed out"
	}
	_ = err
	return "knowledge search failed"
}
