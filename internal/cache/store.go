// Package cache is the local read-through cache of the family's chore
// state. The presentation layer reads from here only; it never blocks
// on a remote call. The cache is refreshed after every confirmed
// remote mutation and after each reconciliation pass, and must never
// be ahead of the remote store.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

// ErrNotFound is returned when an instance is not in the cache.
var ErrNotFound = errors.New("cache: instance not found")

const schema = `
CREATE TABLE IF NOT EXISTS chores (
	id          TEXT PRIMARY KEY,
	template_id TEXT NOT NULL DEFAULT '',
	cycle_id    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	due_date    TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chore_assignees (
	chore_id  TEXT NOT NULL,
	member_id TEXT NOT NULL,
	PRIMARY KEY (chore_id, member_id)
);
CREATE INDEX IF NOT EXISTS idx_chore_assignees_member ON chore_assignees(member_id);
CREATE TABLE IF NOT EXISTS templates (
	id      TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
`

// Store is the SQLite-backed cache.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	watchCh chan struct{}
}

// Open opens (and migrates) the cache database at path. Use ":memory:"
// for an ephemeral cache.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// A single connection keeps :memory: databases coherent and is
	// plenty for a per-family cache.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{
		db:      db,
		logger:  logger,
		watchCh: make(chan struct{}, 1),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Watch returns a channel that receives a signal after every cache
// change. The channel is bounded; coalesced signals are dropped, so a
// subscriber sees "something changed", not one event per change.
func (s *Store) Watch() <-chan struct{} {
	return s.watchCh
}

func (s *Store) notify() {
	select {
	case s.watchCh <- struct{}{}:
	default:
	}
}

// All returns every cached instance ordered by due date.
func (s *Store) All(ctx context.Context) ([]model.Instance, error) {
	return s.query(ctx, `SELECT payload FROM chores ORDER BY due_date, id`)
}

// ByID returns one cached instance, or ErrNotFound.
func (s *Store) ByID(ctx context.Context, id string) (*model.Instance, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chores WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup %s: %w", id, err)
	}

	var inst model.Instance
	if err := json.Unmarshal([]byte(payload), &inst); err != nil {
		return nil, fmt.Errorf("decode cached instance %s: %w", id, err)
	}
	return &inst, nil
}

// ByAssignee returns the cached instances assigned to a member,
// ordered by due date.
func (s *Store) ByAssignee(ctx context.Context, memberID string) ([]model.Instance, error) {
	return s.query(ctx, `
		SELECT c.payload FROM chores c
		JOIN chore_assignees a ON a.chore_id = c.id
		WHERE a.member_id = ?
		ORDER BY c.due_date, c.id`, memberID)
}

// Templates returns every cached template.
func (s *Store) Templates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("cache query templates: %w", err)
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var tpl model.Template
		if err := json.Unmarshal([]byte(payload), &tpl); err != nil {
			return nil, fmt.Errorf("decode cached template: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// ReplaceAll mirrors the cache to exactly the given instance set:
// delete-all-then-reinsert, not a diff merge, so instances removed
// remotely disappear from readers.
func (s *Store) ReplaceAll(ctx context.Context, instances []model.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chores`); err != nil {
		return fmt.Errorf("cache clear chores: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chore_assignees`); err != nil {
		return fmt.Errorf("cache clear assignees: %w", err)
	}
	for i := range instances {
		if err := insertInstance(ctx, tx, &instances[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache commit: %w", err)
	}

	s.notify()
	return nil
}

// ReplaceTemplates mirrors the template cache.
func (s *Store) ReplaceTemplates(ctx context.Context, templates []model.Template) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM templates`); err != nil {
		return fmt.Errorf("cache clear templates: %w", err)
	}
	for i := range templates {
		payload, err := json.Marshal(&templates[i])
		if err != nil {
			return fmt.Errorf("encode template %s: %w", templates[i].ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO templates (id, payload) VALUES (?, ?)`,
			templates[i].ID, string(payload)); err != nil {
			return fmt.Errorf("cache insert template %s: %w", templates[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache commit: %w", err)
	}

	s.notify()
	return nil
}

// Upsert writes one instance into the cache. Called after a confirmed
// remote mutation.
func (s *Store) Upsert(ctx context.Context, inst *model.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chores WHERE id = ?`, inst.ID); err != nil {
		return fmt.Errorf("cache delete %s: %w", inst.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chore_assignees WHERE chore_id = ?`, inst.ID); err != nil {
		return fmt.Errorf("cache delete assignees %s: %w", inst.ID, err)
	}
	if err := insertInstance(ctx, tx, inst); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache commit: %w", err)
	}

	s.notify()
	return nil
}

// Delete removes one instance from the cache.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chores WHERE id = ?`, id); err != nil {
		return fmt.Errorf("cache delete %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chore_assignees WHERE chore_id = ?`, id); err != nil {
		return fmt.Errorf("cache delete assignees %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache commit: %w", err)
	}

	s.notify()
	return nil
}

func insertInstance(ctx context.Context, tx *sql.Tx, inst *model.Instance) error {
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chores (id, template_id, cycle_id, status, due_date, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.TemplateID, inst.CycleID, string(inst.Status), inst.DueDate.String(), string(payload)); err != nil {
		return fmt.Errorf("cache insert %s: %w", inst.ID, err)
	}
	for _, member := range inst.AssigneeIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chore_assignees (chore_id, member_id) VALUES (?, ?)`,
			inst.ID, member); err != nil {
			return fmt.Errorf("cache insert assignee %s/%s: %w", inst.ID, member, err)
		}
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Instance, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cache query: %w", err)
	}
	defer rows.Close()

	var out []model.Instance
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var inst model.Instance
		if err := json.Unmarshal([]byte(payload), &inst); err != nil {
			return nil, fmt.Errorf("decode cached instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
