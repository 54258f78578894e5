// Package sqlexport copies the object table into a SQLite database so it can
// be queried offline with ordinary SQL.
package sqlexport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

var (
	ErrClosed   = errors.New("sqlexport: store is closed")
	ErrReadOnly = errors.New("sqlexport: only SELECT queries are allowed")
)

const schema = `
DROP TABLE IF EXISTS objects;
DROP TABLE IF EXISTS attrs;
DROP TABLE IF EXISTS defs;
DROP TABLE IF EXISTS parents;
CREATE TABLE objects (
	ref          INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	display_name TEXT NOT NULL,
	type         TEXT NOT NULL,
	flags        TEXT NOT NULL,
	location     INTEGER NOT NULL,
	zone         INTEGER NOT NULL,
	link         INTEGER NOT NULL,
	exits        INTEGER NOT NULL,
	owner        INTEGER NOT NULL,
	fighting     INTEGER NOT NULL,
	created      INTEGER NOT NULL,
	modified     INTEGER NOT NULL,
	going        INTEGER NOT NULL
);
CREATE TABLE attrs (
	ref       INTEGER NOT NULL,
	name      TEXT NOT NULL,
	def_owner INTEGER,
	value     TEXT NOT NULL
);
CREATE TABLE defs (
	owner INTEGER NOT NULL,
	idx   INTEGER NOT NULL,
	name  TEXT NOT NULL,
	flags INTEGER NOT NULL,
	refs  INTEGER NOT NULL,
	PRIMARY KEY (owner, idx)
);
CREATE TABLE parents (
	child  INTEGER NOT NULL,
	parent INTEGER NOT NULL,
	PRIMARY KEY (child, parent)
);
CREATE INDEX attrs_ref ON attrs(ref);
CREATE INDEX objects_owner ON objects(owner);
`

// Counts reports how many rows an export wrote per table.
type Counts struct {
	Objects int
	Attrs   int
	Defs    int
	Parents int
}

// Store manages a SQLite connection holding an exported snapshot.
type Store struct {
	db         *sql.DB
	mu         sync.Mutex
	path       string
	queryLimit int
	timeout    time.Duration
	log        *zap.Logger
}

// Open opens (or creates) the SQLite file at path, sets WAL mode and a busy
// timeout.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlexport: opening %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlexport: setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlexport: setting busy timeout: %w", err)
	}
	return &Store{
		db:         db,
		path:       path,
		queryLimit: 1000,
		timeout:    10 * time.Second,
		log:        obslog.OrNop(logger),
	}, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

// Export replaces the tables with the live objects of gdb in one
// transaction. Destroyed slots are skipped.
func (s *Store) Export(ctx context.Context, gdb *gamedb.DB) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n Counts
	if s.db == nil {
		return n, ErrClosed
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return n, fmt.Errorf("sqlexport: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return n, fmt.Errorf("sqlexport: schema: %w", err)
	}
	objStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO objects VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return n, fmt.Errorf("sqlexport: prepare objects: %w", err)
	}
	attrStmt, err := tx.PrepareContext(ctx, `INSERT INTO attrs VALUES (?, ?, ?, ?)`)
	if err != nil {
		return n, fmt.Errorf("sqlexport: prepare attrs: %w", err)
	}
	defStmt, err := tx.PrepareContext(ctx, `INSERT INTO defs VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return n, fmt.Errorf("sqlexport: prepare defs: %w", err)
	}
	parentStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO parents VALUES (?, ?)`)
	if err != nil {
		return n, fmt.Errorf("sqlexport: prepare parents: %w", err)
	}

	for i := 0; i < gdb.Top(); i++ {
		ref := gamedb.DBRef(i)
		if !gdb.GoodObject(ref) || gdb.IsDestroyed(ref) {
			continue
		}
		o := gdb.Get(ref)
		if _, err := objStmt.ExecContext(ctx,
			int(ref), o.Name, o.DisplayName, o.ObjType().String(), gamedb.FlagString(o.Flags),
			int(o.Location), int(o.Zone), int(o.Link), int(o.Exits), int(o.Owner), int(o.Fighting),
			unix(o.Created), unix(o.Modified), o.IsGoing(),
		); err != nil {
			return n, fmt.Errorf("sqlexport: object #%d: %w", ref, err)
		}
		n.Objects++

		for _, a := range gdb.Attrs(ref) {
			var owner any
			if !a.Def.IsBuiltin() {
				owner = int(a.Def.Owner)
			}
			if _, err := attrStmt.ExecContext(ctx, int(ref), a.Def.Name, owner, a.Value); err != nil {
				return n, fmt.Errorf("sqlexport: object #%d attr %s: %w", ref, a.Def.Name, err)
			}
			n.Attrs++
		}
		for idx, d := range o.Defs {
			if _, err := defStmt.ExecContext(ctx, int(ref), idx, d.Name, d.Flags, d.Refs()); err != nil {
				return n, fmt.Errorf("sqlexport: object #%d def %s: %w", ref, d.Name, err)
			}
			n.Defs++
		}
		for _, p := range o.Parents {
			if _, err := parentStmt.ExecContext(ctx, int(ref), int(p)); err != nil {
				return n, fmt.Errorf("sqlexport: object #%d parent #%d: %w", ref, p, err)
			}
			n.Parents++
		}
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("sqlexport: commit: %w", err)
	}
	obslog.Important(s.log, "sqlexport: export complete",
		zap.String("path", s.path), zap.Int("objects", n.Objects), zap.Int("attrs", n.Attrs),
		zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Query runs a SELECT against the export and returns rows delimited by
// rowDelim with fields separated by fieldDelim. At most 1000 rows are
// returned.
func (s *Store) Query(ctx context.Context, query, rowDelim, fieldDelim string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", ErrClosed
	}
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return "", ErrReadOnly
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	numCols := len(cols)

	var resultRows []string
	for rows.Next() && len(resultRows) < s.queryLimit {
		values := make([]any, numCols)
		ptrs := make([]any, numCols)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		fields := make([]string, numCols)
		for i, v := range values {
			if v != nil {
				fields[i] = fmt.Sprintf("%v", v)
			}
		}
		resultRows = append(resultRows, strings.Join(fields, fieldDelim))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strings.Join(resultRows, rowDelim), nil
}
