// Package contextstore owns the four-layer EnterpriseContext data model and
// its versioned, snapshot-per-save persistence.
//
// The store is the only shared mutable resource in agentd. All mutation is
// funneled through Save with optimistic versioning: a caller loads a context
// at some version, mutates it, and saves; a concurrent writer is detected as
// ErrVersionConflict and must reload. Every save keeps the prior snapshot, so
// any historical version can be recovered for debugging.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when no snapshot exists for a workflow id.
	ErrNotFound = errors.New("context not found")

	// ErrVersionConflict indicates a concurrent writer was detected.
	ErrVersionConflict = errors.New("context version conflict")

	// ErrSerialization indicates a schema mismatch on read.
	ErrSerialization = errors.New("context serialization error")
)

// SnapshotInfo describes one persisted point-in-time snapshot.
type SnapshotInfo struct {
	WorkflowID string    `json:"workflow_id"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists EnterpriseContext snapshots keyed by workflow id.
type Store interface {
	// Load returns the latest snapshot for a workflow id.
	// Returns ErrNotFound for unknown ids.
	Load(ctx context.Context, workflowID string) (*EnterpriseContext, error)

	// LoadVersion returns a specific historical snapshot (time travel).
	LoadVersion(ctx context.Context, workflowID string, version int) (*EnterpriseContext, error)

	// History lists persisted snapshots for a workflow, newest first.
	History(ctx context.Context, workflowID string) ([]SnapshotInfo, error)

	// Save atomically persists the full four-layer snapshot. The caller's
	// ec.Version must match the stored head version; on success the head
	// advances and ec.Version is updated in place. Redelivering the same
	// save is an observable no-op. Returns ErrVersionConflict when a
	// concurrent writer advanced the head first.
	Save(ctx context.Context, ec *EnterpriseContext) error

	// Fork deep-copies the latest snapshot of a workflow under new
	// identifiers and persists the copy as its first version.
	Fork(ctx context.Context, workflowID, newWorkflowID, newRunID string) (*EnterpriseContext, error)

	// Close releases store resources.
	Close() error
}

// snapshotPayloadEqual reports whether two serialized snapshots are equal
// ignoring version and timestamp bookkeeping. Used to make Save idempotent
// under at-least-once redelivery.
func snapshotPayloadEqual(a, b []byte) bool {
	ca, err := Unmarshal(a)
	if err != nil {
		return false
	}
	cb, err := Unmarshal(b)
	if err != nil {
		return false
	}
	ca.Version, cb.Version = 0, 0
	ca.UpdatedAt, cb.UpdatedAt = time.Time{}, time.Time{}
	da, err := json.Marshal(ca)
	if err != nil {
		return false
	}
	db, err := json.Marshal(cb)
	if err != nil {
		return false
	}
	return string(da) == string(db)
}
