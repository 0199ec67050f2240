package contextstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const instrumentationName = "github.com/fyrsmithlabs/agentd/internal/contextstore"

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	workflow_id TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	snapshot    TEXT    NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (workflow_id, version)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_workflow ON snapshots (workflow_id, version DESC);
`

// SQLiteConfig configures the SQLite-backed store.
type SQLiteConfig struct {
	// Path is the database file. The parent directory is created if missing.
	Path string

	// MaxSnapshots caps retained versions per workflow. Zero keeps all.
	MaxSnapshots int
}

// SQLiteStore persists snapshots in an embedded SQLite database.
// Saves run in an immediate transaction, so the full four-layer snapshot is
// written atomically or not at all.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteConfig
	logger *zap.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent workflow saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Load returns the latest snapshot for a workflow id.
func (s *SQLiteStore) Load(ctx context.Context, workflowID string) (*EnterpriseContext, error) {
	ctx, span := s.tracer.Start(ctx, "contextstore.load")
	defer span.End()
	span.SetAttributes(attribute.String("workflow_id", workflowID))

	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM snapshots WHERE workflow_id = ? ORDER BY version DESC LIMIT 1`,
		workflowID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	return Unmarshal(raw)
}

// LoadVersion returns a specific historical snapshot.
func (s *SQLiteStore) LoadVersion(ctx context.Context, workflowID string, version int) (*EnterpriseContext, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM snapshots WHERE workflow_id = ? AND version = ?`,
		workflowID, version)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s@%d", ErrNotFound, workflowID, version)
		}
		return nil, fmt.Errorf("loading snapshot version: %w", err)
	}

	return Unmarshal(raw)
}

// History lists snapshots for a workflow, newest first.
func (s *SQLiteStore) History(ctx context.Context, workflowID string) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, created_at FROM snapshots WHERE workflow_id = ? ORDER BY version DESC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var createdAt int64
		if err := rows.Scan(&info.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		info.WorkflowID = workflowID
		info.CreatedAt = time.Unix(createdAt, 0).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	return infos, nil
}

// Save persists the snapshot with an optimistic version check.
func (s *SQLiteStore) Save(ctx context.Context, ec *EnterpriseContext) error {
	ctx, span := s.tracer.Start(ctx, "contextstore.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow_id", ec.WorkflowID),
		attribute.Int("version", ec.Version),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head int
	var headSnapshot []byte
	row := tx.QueryRowContext(ctx,
		`SELECT version, snapshot FROM snapshots WHERE workflow_id = ? ORDER BY version DESC LIMIT 1`,
		ec.WorkflowID)
	switch err := row.Scan(&head, &headSnapshot); {
	case errors.Is(err, sql.ErrNoRows):
		head = 0
	case err != nil:
		return fmt.Errorf("reading head version: %w", err)
	}

	candidate := ec.Clone()
	candidate.Version = ec.Version + 1
	candidate.UpdatedAt = time.Now().UTC()
	raw, err := candidate.Marshal()
	if err != nil {
		return fmt.Errorf("serializing snapshot: %w", err)
	}

	if head != ec.Version {
		// Redelivered save: the head already holds this exact snapshot.
		if head == ec.Version+1 && snapshotPayloadEqual(headSnapshot, raw) {
			ec.Version = head
			return nil
		}
		err := fmt.Errorf("%w: workflow %s at version %d, caller has %d",
			ErrVersionConflict, ec.WorkflowID, head, ec.Version)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (workflow_id, version, snapshot, created_at) VALUES (?, ?, ?, ?)`,
		ec.WorkflowID, candidate.Version, raw, candidate.UpdatedAt.Unix()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	if s.config.MaxSnapshots > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE workflow_id = ? AND version <= ?`,
			ec.WorkflowID, candidate.Version-s.config.MaxSnapshots); err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	ec.Version = candidate.Version
	ec.UpdatedAt = candidate.UpdatedAt
	s.logger.Debug("saved context snapshot",
		zap.String("workflow_id", ec.WorkflowID),
		zap.Int("version", ec.Version),
	)
	return nil
}

// Fork copies the latest snapshot under new identifiers.
func (s *SQLiteStore) Fork(ctx context.Context, workflowID, newWorkflowID, newRunID string) (*EnterpriseContext, error) {
	ctx, span := s.tracer.Start(ctx, "contextstore.fork")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("fork_workflow_id", newWorkflowID),
	)

	parent, err := s.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	fork := parent.Fork(newWorkflowID, newRunID, time.Now().UTC())
	if err := s.Save(ctx, fork); err != nil {
		return nil, fmt.Errorf("persisting fork: %w", err)
	}

	s.logger.Info("forked context",
		zap.String("workflow_id", workflowID),
		zap.String("fork_workflow_id", newWorkflowID),
	)
	return fork, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
