// Package store provides the embedded local store backing the sync core:
// durable, transactional collections of JSON records over SQLite, with
// secondary indexes declared once and created idempotently at open time.
//
// Each collection is a table holding the record as a JSON document plus
// one virtual generated column per declared index. Index queries, range
// scans and uniqueness constraints all run against those columns, so a
// record is durable the moment a mutating call returns.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
)

// DBFileName is the SQLite file created inside the data directory.
const DBFileName = "fieldcite.db"

// Index declares a secondary index over one top-level JSON field.
type Index struct {
	Name    string // JSON field name; also used as the column and index name
	Unique  bool
	Numeric bool // give the extracted column INTEGER affinity for numeric ordering
}

// Collection declares one named collection.
type Collection struct {
	Name    string
	KeyPath string // JSON field holding the primary key (TEXT); ignored when AutoKey
	AutoKey bool   // store assigns an ascending integer key on Add
	Indexes []Index
}

// Schema is the full set of collections, declared once by the caller.
type Schema struct {
	Version     int
	Collections []Collection
}

// Store is an embedded collection store. All access is serialized through
// a single SQLite connection; every mutating call is durable on return.
type Store struct {
	db          *sql.DB
	collections map[string]Collection
}

// Open opens (creating if needed) the store under dataDir and applies the
// schema: missing collections and indexes are created, existing ones are
// left untouched. Open is safe to call against a store created by an
// older schema version.
func Open(dataDir string, schema Schema) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer; serialize all access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:          db,
		collections: make(map[string]Collection, len(schema.Collections)),
	}
	for _, c := range schema.Collections {
		s.collections[c.Name] = c
	}

	if err := s.applySchema(schema); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// applySchema creates missing tables, generated columns and indexes.
func (s *Store) applySchema(schema Schema) error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS store_meta (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		version INTEGER NOT NULL
	);`); err != nil {
		return apperrors.Wrap(apperrors.ErrSchema, "failed to create meta table", err)
	}

	for _, col := range schema.Collections {
		if err := s.ensureCollection(col); err != nil {
			return apperrors.Wrap(apperrors.ErrSchema,
				fmt.Sprintf("failed to create collection %q", col.Name), err)
		}
	}

	_, err := s.db.Exec(`
	INSERT INTO store_meta (id, version) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET version = excluded.version
	WHERE excluded.version > store_meta.version;`, schema.Version)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSchema, "failed to record schema version", err)
	}
	return nil
}

// ensureCollection creates the table if missing, then adds any index
// columns and indexes declared since the table was first created.
func (s *Store) ensureCollection(col Collection) error {
	// AUTOINCREMENT keeps assigned keys strictly monotonic even after
	// the highest-keyed row is deleted.
	keyDecl := "TEXT PRIMARY KEY"
	if col.AutoKey {
		keyDecl = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	_, err := s.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q (
		k %s,
		doc TEXT NOT NULL
	);`, col.Name, keyDecl))
	if err != nil {
		return err
	}

	existing, err := s.tableColumns(col.Name)
	if err != nil {
		return err
	}

	for _, idx := range col.Indexes {
		if !existing[idx.Name] {
			affinity := "TEXT"
			if idx.Numeric {
				affinity = "INTEGER"
			}
			alter := fmt.Sprintf(
				`ALTER TABLE %q ADD COLUMN %q %s GENERATED ALWAYS AS (json_extract(doc, '$.%s')) VIRTUAL;`,
				col.Name, idx.Name, affinity, idx.Name)
			if _, err := s.db.Exec(alter); err != nil {
				return err
			}
		}

		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		create := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %q ON %q (%q);`,
			unique, col.Name+"_"+idx.Name, col.Name, idx.Name)
		if _, err := s.db.Exec(create); err != nil {
			return err
		}
	}
	return nil
}

// tableColumns returns the set of column names on a table.
func (s *Store) tableColumns(table string) (map[string]bool, error) {
	// table_xinfo, not table_info: the latter omits generated columns,
	// which is how every index column on an existing table is declared.
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_xinfo(%q);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
			hidden  int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk, &hidden); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Version returns the schema version recorded in the store.
func (s *Store) Version() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT version FROM store_meta WHERE id = 1").Scan(&v)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read schema version", err)
	}
	return v, nil
}

// collection resolves a declared collection by name.
func (s *Store) collection(name string) (Collection, error) {
	col, ok := s.collections[name]
	if !ok {
		return Collection{}, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("unknown collection %q", name))
	}
	return col, nil
}

// isConstraintErr reports whether err is a SQLite constraint violation
// (duplicate primary key or unique index).
func isConstraintErr(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	// SQLITE_CONSTRAINT is primary result code 19.
	return serr.Code()&0xff == 19
}
