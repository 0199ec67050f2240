package contextstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memorySnapshot struct {
	version   int
	raw       []byte
	createdAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node development.
// It keeps the same versioning and idempotency semantics as SQLiteStore.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]memorySnapshot
	maxKept   int
}

// NewMemoryStore creates an empty in-memory store. maxSnapshots of zero
// keeps all versions.
func NewMemoryStore(maxSnapshots int) *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]memorySnapshot),
		maxKept:   maxSnapshots,
	}
}

func (s *MemoryStore) Load(_ context.Context, workflowID string) (*EnterpriseContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.snapshots[workflowID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	return Unmarshal(versions[len(versions)-1].raw)
}

func (s *MemoryStore) LoadVersion(_ context.Context, workflowID string, version int) (*EnterpriseContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots[workflowID] {
		if snap.version == version {
			return Unmarshal(snap.raw)
		}
	}
	return nil, fmt.Errorf("%w: %s@%d", ErrNotFound, workflowID, version)
}

func (s *MemoryStore) History(_ context.Context, workflowID string) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.snapshots[workflowID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}

	infos := make([]SnapshotInfo, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		infos = append(infos, SnapshotInfo{
			WorkflowID: workflowID,
			Version:    versions[i].version,
			CreatedAt:  versions[i].createdAt,
		})
	}
	return infos, nil
}

func (s *MemoryStore) Save(_ context.Context, ec *EnterpriseContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.snapshots[ec.WorkflowID]
	head := 0
	if len(versions) > 0 {
		head = versions[len(versions)-1].version
	}

	candidate := ec.Clone()
	candidate.Version = ec.Version + 1
	candidate.UpdatedAt = time.Now().UTC()
	raw, err := candidate.Marshal()
	if err != nil {
		return fmt.Errorf("serializing snapshot: %w", err)
	}

	if head != ec.Version {
		if head == ec.Version+1 && snapshotPayloadEqual(versions[len(versions)-1].raw, raw) {
			ec.Version = head
			return nil
		}
		return fmt.Errorf("%w: workflow %s at version %d, caller has %d",
			ErrVersionConflict, ec.WorkflowID, head, ec.Version)
	}

	versions = append(versions, memorySnapshot{
		version:   candidate.Version,
		raw:       raw,
		createdAt: candidate.UpdatedAt,
	})
	if s.maxKept > 0 && len(versions) > s.maxKept {
		versions = versions[len(versions)-s.maxKept:]
	}
	s.snapshots[ec.WorkflowID] = versions

	ec.Version = candidate.Version
	ec.UpdatedAt = candidate.UpdatedAt
	return nil
}

func (s *MemoryStore) Fork(ctx context.Context, workflowID, newWorkflowID, newRunID string) (*EnterpriseContext, error) {
	parent, err := s.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	fork := parent.Fork(newWorkflowID, newRunID, time.Now().UTC())
	if err := s.Save(ctx, fork); err != nil {
		return nil, fmt.Errorf("persisting fork: %w", err)
	}
	return fork, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
