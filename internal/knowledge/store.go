// Package knowledge defines the interface to the external long-term
// knowledge store and ships an embedded chromem-go implementation.
//
// The core consumes the store through Search and Write only; the indexing
// internals belong to the collaborator behind this interface.
package knowledge

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

// ErrUnavailable indicates the knowledge store could not be reached.
var ErrUnavailable = errors.New("knowledge store unavailable")

// Store is the consumed knowledge-store interface.
//
// Both operations honor the caller's context deadline; the enrichment
// pipeline passes a short timeout and treats failures as non-fatal.
type Store interface {
	// Search returns up to topK facts relevant to the query, scored 0..1 and
	// sorted descending by score. Every fact carries a provenance pointer.
	Search(ctx context.Context, query string, topK int) ([]contextstore.Fact, error)

	// Write records a conversation turn for future retrieval.
	Write(ctx context.Context, turn contextstore.Turn) error

	// Close releases store resources.
	Close() error
}
