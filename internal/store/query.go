package store

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
)

// Direction orders query results.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Range bounds an index scan. Only takes precedence over Lower/Upper.
type Range struct {
	Only      interface{}
	Lower     interface{}
	Upper     interface{}
	LowerOpen bool // exclude the lower bound itself
	UpperOpen bool // exclude the upper bound itself
}

// Only returns a Range matching exactly one index value.
func Only(value interface{}) *Range {
	return &Range{Only: value}
}

// QueryOptions selects, bounds and orders a scan over one collection.
// With no Index the scan runs in primary key order.
type QueryOptions struct {
	Index     string
	Range     *Range
	Direction Direction
	Limit     int
	Offset    int
}

// Query returns raw records ordered by the chosen index (ties broken by
// primary key) or by primary key when no index is given.
func (s *Store) Query(collection string, opts QueryOptions) ([]json.RawMessage, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if opts.Index != "" && !hasIndex(col, opts.Index) {
		return nil, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("no index %q on collection %q", opts.Index, collection))
	}

	var (
		where []string
		args  []interface{}
	)
	if opts.Range != nil {
		if opts.Index == "" {
			return nil, apperrors.New(apperrors.ErrInvalid, "range query requires an index")
		}
		r := opts.Range
		switch {
		case r.Only != nil:
			where = append(where, fmt.Sprintf("%q = ?", opts.Index))
			args = append(args, r.Only)
		default:
			if r.Lower != nil {
				op := ">="
				if r.LowerOpen {
					op = ">"
				}
				where = append(where, fmt.Sprintf("%q %s ?", opts.Index, op))
				args = append(args, r.Lower)
			}
			if r.Upper != nil {
				op := "<="
				if r.UpperOpen {
					op = "<"
				}
				where = append(where, fmt.Sprintf("%q %s ?", opts.Index, op))
				args = append(args, r.Upper)
			}
		}
	}

	dir := "ASC"
	if opts.Direction == Desc {
		dir = "DESC"
	}

	var order string
	if opts.Index != "" {
		order = fmt.Sprintf("ORDER BY %q %s, k %s", opts.Index, dir, dir)
	} else {
		order = fmt.Sprintf("ORDER BY k %s", dir)
	}

	query := fmt.Sprintf("SELECT doc FROM %q", col.Name)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " " + order

	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit, required when OFFSET is present
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query+";", args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query failed", err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan failed", err)
		}
		docs = append(docs, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query failed", err)
	}
	return docs, nil
}

// QueryInto runs Query and decodes the results into dest, which must be a
// pointer to a slice.
func (s *Store) QueryInto(collection string, opts QueryOptions, dest interface{}) error {
	docs, err := s.Query(collection, opts)
	if err != nil {
		return err
	}

	// Assemble one JSON array so a single unmarshal fills the slice.
	var b strings.Builder
	b.WriteByte('[')
	for i, doc := range docs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(doc)
	}
	b.WriteByte(']')

	if err := json.Unmarshal([]byte(b.String()), dest); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to decode query results", err)
	}
	return nil
}
