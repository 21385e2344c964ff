package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the concrete relational-table backend for Store (spec §6:
// "Node table: (id, node_type, scope, attributes_json, created_at,
// updated_at, occurrence_id). Edge table: (id, source_id, target_id,
// edge_type, attributes_json, created_at)"). The engine itself is the
// external collaborator spec §4.2 calls out; go-sqlite3 is the concrete
// driver this runtime ships with, grounded on the teacher's own
// mattn/go-sqlite3 dependency (core/persistence.go's JSON-file persistence
// pattern is the ancestor of the schema below, translated from files to
// rows).
type SQLiteStore struct {
	db          *sql.DB
	defaultPage int
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT NOT NULL,
	occurrence_id TEXT NOT NULL,
	node_type TEXT NOT NULL,
	scope TEXT NOT NULL,
	attributes_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (occurrence_id, id)
);
CREATE INDEX IF NOT EXISTS idx_nodes_occ_type_created ON nodes(occurrence_id, node_type, created_at);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT NOT NULL,
	occurrence_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	edge_type TEXT NOT NULL,
	attributes_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (occurrence_id, id),
	UNIQUE (occurrence_id, source_id, target_id, edge_type)
);
`

// OpenSQLiteStore opens (creating if absent) a SQLite-backed Store at path.
// Use ":memory:" for ephemeral/test stores.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("graph: open sqlite store: %w", err)
	}
	// The store is accessed by a single processor goroutine per occurrence
	// plus background consolidation/audit writers; one connection keeps
	// SQLite's single-writer model honest without a separate mutex layer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: migrate schema: %w", err)
	}
	return &SQLiteStore{db: db, defaultPage: 100}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, node *Node) (*Node, error) {
	if node.ID == "" {
		return nil, fmt.Errorf("graph: Put requires a non-empty node ID")
	}
	if node.OccurrenceID == "" {
		return nil, fmt.Errorf("graph: Put requires a non-empty OccurrenceID")
	}
	attrs, err := json.Marshal(node.Attributes)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal attributes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM nodes WHERE occurrence_id = ? AND id = ?`,
		node.OccurrenceID, node.ID).Scan(&currentVersion)

	now := node.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch {
	case err == sql.ErrNoRows:
		if node.Version > 0 {
			return nil, ErrVersionConflict
		}
		out := *node
		out.Version = 1
		out.CreatedAt = now
		if !node.CreatedAt.IsZero() {
			out.CreatedAt = node.CreatedAt.UTC()
		}
		out.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, occurrence_id, node_type, scope, attributes_json, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, out.OccurrenceID, string(out.NodeType), string(out.Scope), attrs,
			out.CreatedAt.Format(time.RFC3339Nano), out.UpdatedAt.Format(time.RFC3339Nano), out.Version,
		); err != nil {
			return nil, fmt.Errorf("graph: insert node: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("graph: commit: %w", err)
		}
		return &out, nil
	case err != nil:
		return nil, fmt.Errorf("graph: lookup current version: %w", err)
	default:
		if node.Version != currentVersion {
			return nil, ErrVersionConflict
		}
		out := *node
		out.Version = currentVersion + 1
		out.UpdatedAt = now
		res, err := tx.ExecContext(ctx, `
			UPDATE nodes SET node_type = ?, scope = ?, attributes_json = ?, updated_at = ?, version = ?
			WHERE occurrence_id = ? AND id = ? AND version = ?`,
			string(out.NodeType), string(out.Scope), attrs, out.UpdatedAt.Format(time.RFC3339Nano), out.Version,
			out.OccurrenceID, out.ID, currentVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("graph: update node: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Lost the race between the SELECT and the UPDATE.
			return nil, ErrVersionConflict
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("graph: commit: %w", err)
		}
		// CreatedAt wasn't touched; read it back so the caller sees the real value.
		var createdAt string
		if err := s.db.QueryRowContext(ctx,
			`SELECT created_at FROM nodes WHERE occurrence_id = ? AND id = ?`,
			out.OccurrenceID, out.ID).Scan(&createdAt); err == nil {
			if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
				out.CreatedAt = t
			}
		}
		return &out, nil
	}
}

func (s *SQLiteStore) Get(ctx context.Context, occurrenceID, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, occurrence_id, node_type, scope, attributes_json, created_at, updated_at, version
		FROM nodes WHERE occurrence_id = ? AND id = ?`, occurrenceID, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: get node: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Search(ctx context.Context, occurrenceID string, filter Filter) ([]*Node, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = s.defaultPage
	}
	var b strings.Builder
	b.WriteString(`SELECT id, occurrence_id, node_type, scope, attributes_json, created_at, updated_at, version
		FROM nodes WHERE occurrence_id = ?`)
	args := []any{occurrenceID}

	if filter.NodeType != "" {
		b.WriteString(` AND node_type = ?`)
		args = append(args, string(filter.NodeType))
	}
	if filter.Scope != "" {
		b.WriteString(` AND scope = ?`)
		args = append(args, string(filter.Scope))
	}
	if !filter.CreatedAfter.IsZero() {
		b.WriteString(` AND created_at > ?`)
		args = append(args, filter.CreatedAfter.Format(time.RFC3339Nano))
	}
	if filter.IDPrefix != "" {
		b.WriteString(` AND id GLOB ?`)
		args = append(args, globEscape(filter.IDPrefix)+"*")
	}
	b.WriteString(` ORDER BY created_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("graph: search: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("graph: scan search row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Link(ctx context.Context, edge *Edge) error {
	if edge.SourceID == "" || edge.TargetID == "" {
		return fmt.Errorf("graph: Link requires source and target IDs")
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM nodes WHERE occurrence_id = ? AND id IN (?, ?)`,
		edge.OccurrenceID, edge.SourceID, edge.TargetID).Scan(&exists); err != nil {
		return fmt.Errorf("graph: check edge endpoints: %w", err)
	}
	if exists < 2 {
		return ErrDanglingEdge
	}
	attrs, err := json.Marshal(edge.Attributes)
	if err != nil {
		return fmt.Errorf("graph: marshal edge attributes: %w", err)
	}
	id := edge.ID
	if id == "" {
		id = fmt.Sprintf("edge-%s-%s-%s", edge.SourceID, edge.TargetID, edge.EdgeType)
	}
	createdAt := edge.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (id, occurrence_id, source_id, target_id, edge_type, attributes_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, edge.OccurrenceID, edge.SourceID, edge.TargetID, string(edge.EdgeType), attrs,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("graph: insert edge: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PreviousInChain(ctx context.Context, occurrenceID, prefix, currentID string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, occurrence_id, node_type, scope, attributes_json, created_at, updated_at, version
		FROM nodes
		WHERE occurrence_id = ? AND id GLOB ? AND id < ?
		ORDER BY id DESC LIMIT 1`,
		occurrenceID, globEscape(prefix)+"*", currentID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: previous in chain: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Forget(ctx context.Context, occurrenceID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE occurrence_id = ? AND (source_id = ? OR target_id = ?)`,
		occurrenceID, id, id); err != nil {
		return fmt.Errorf("graph: forget edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE occurrence_id = ? AND id = ?`,
		occurrenceID, id); err != nil {
		return fmt.Errorf("graph: forget node: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	var (
		n               Node
		nodeType, scope string
		attrsJSON       string
		createdAt       string
		updatedAt       string
	)
	if err := row.Scan(&n.ID, &n.OccurrenceID, &nodeType, &scope, &attrsJSON, &createdAt, &updatedAt, &n.Version); err != nil {
		return nil, err
	}
	n.NodeType = NodeType(nodeType)
	n.Scope = Scope(scope)
	if attrsJSON != "" {
		if err := json.Unmarshal([]byte(attrsJSON), &n.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		n.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		n.UpdatedAt = t
	}
	return &n, nil
}

// globEscape neutralizes SQLite GLOB metacharacters ('*', '?', '[') that
// might appear in a caller-supplied prefix, so a prefix is always matched
// literally plus our own trailing '*'.
func globEscape(s string) string {
	r := strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")
	return r.Replace(s)
}
