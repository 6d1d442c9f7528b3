package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
)

// encode marshals a record and extracts its primary key per the
// collection declaration. For auto-key collections the key is the value
// currently in the key field ("id"), which may be zero for new records.
func encode(col Collection, record interface{}) ([]byte, interface{}, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "record must be a JSON object", err)
	}

	if col.AutoKey {
		var id int64
		if raw, ok := fields["id"]; ok {
			if err := json.Unmarshal(raw, &id); err != nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "auto-key field is not an integer", err)
			}
		}
		return doc, id, nil
	}

	raw, ok := fields[col.KeyPath]
	if !ok {
		return nil, nil, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("record is missing key field %q", col.KeyPath))
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalid, "primary key is not a string", err)
	}
	if key == "" {
		return nil, nil, apperrors.New(apperrors.ErrInvalid, "primary key must not be empty")
	}
	return doc, key, nil
}

// Add inserts a new record. It fails with a CONSTRAINT_VIOLATION error if
// the primary key or any unique index value already exists. For auto-key
// collections the assigned key is written back into the stored document's
// "id" field and returned.
func (s *Store) Add(collection string, record interface{}) (int64, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	doc, key, err := encode(col, record)
	if err != nil {
		return 0, err
	}

	if !col.AutoKey {
		_, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %q (k, doc) VALUES (?, ?);`, col.Name), key, string(doc))
		if err != nil {
			return 0, mapWriteErr(err)
		}
		return 0, nil
	}

	// Auto-key insert: assign the key, then backfill it into the document
	// so stored records are self-contained.
	tx, err := s.db.Begin()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if id, _ := key.(int64); id > 0 {
		res, err = tx.Exec(fmt.Sprintf(`INSERT INTO %q (k, doc) VALUES (?, ?);`, col.Name), id, string(doc))
	} else {
		res, err = tx.Exec(fmt.Sprintf(`INSERT INTO %q (doc) VALUES (?);`, col.Name), string(doc))
	}
	if err != nil {
		return 0, mapWriteErr(err)
	}

	assigned, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read assigned key", err)
	}
	_, err = tx.Exec(fmt.Sprintf(`UPDATE %q SET doc = json_set(doc, '$.id', ?) WHERE k = ?;`, col.Name), assigned, assigned)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to backfill key", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to commit", err)
	}
	return assigned, nil
}

// Put upserts a record by primary key. Duplicate primary keys never fail;
// a unique secondary index violation still does.
func (s *Store) Put(collection string, record interface{}) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	doc, key, err := encode(col, record)
	if err != nil {
		return err
	}

	if col.AutoKey {
		if id, _ := key.(int64); id <= 0 {
			_, err := s.Add(collection, record)
			return err
		}
	}

	_, err = s.db.Exec(fmt.Sprintf(
		`INSERT INTO %q (k, doc) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET doc = excluded.doc;`,
		col.Name), key, string(doc))
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// Get returns the raw record for a key, or a NOT_FOUND error. "Not found"
// is a sentinel condition, not a failure; callers branch on it with
// errors.Is against ErrNotFound codes.
func (s *Store) Get(collection string, key interface{}) (json.RawMessage, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	var doc string
	err = s.db.QueryRow(fmt.Sprintf(`SELECT doc FROM %q WHERE k = ?;`, col.Name), key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("no record %v in %q", key, collection))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "lookup failed", err)
	}
	return json.RawMessage(doc), nil
}

// GetInto decodes the record for a key into dest.
func (s *Store) GetInto(collection string, key interface{}, dest interface{}) error {
	doc, err := s.Get(collection, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, dest); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to decode record", err)
	}
	return nil
}

// Delete removes a record by key. Deleting an absent key is not an error.
func (s *Store) Delete(collection string, key interface{}) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %q WHERE k = ?;`, col.Name), key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete failed", err)
	}
	return nil
}

// Clear removes every record in a collection.
func (s *Store) Clear(collection string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %q;`, col.Name))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "clear failed", err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(collection string) (int64, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q;`, col.Name)).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "count failed", err)
	}
	return n, nil
}

// CountBy returns the number of records whose indexed field equals value.
func (s *Store) CountBy(collection, index string, value interface{}) (int64, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	if !hasIndex(col, index) {
		return 0, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("no index %q on collection %q", index, collection))
	}
	var n int64
	err = s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE %q = ?;`, col.Name, index), value).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "count failed", err)
	}
	return n, nil
}

// PutMany upserts all records inside a single transaction. If any record
// violates a constraint the whole batch is rolled back.
func (s *Store) PutMany(collection string, records []interface{}) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %q (k, doc) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET doc = excluded.doc;`, col.Name))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to prepare batch statement", err)
	}
	defer stmt.Close()

	for _, record := range records {
		doc, key, err := encode(col, record)
		if err != nil {
			return err
		}
		if col.AutoKey {
			if id, _ := key.(int64); id <= 0 {
				return apperrors.New(apperrors.ErrInvalid,
					"batch records in auto-key collections must carry an assigned key")
			}
		}
		if _, err := stmt.Exec(key, string(doc)); err != nil {
			return mapWriteErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit batch", err)
	}
	return nil
}

// hasIndex reports whether the collection declares an index by name.
func hasIndex(col Collection, index string) bool {
	for _, idx := range col.Indexes {
		if idx.Name == index {
			return true
		}
	}
	return false
}

// mapWriteErr translates driver errors into application error codes.
func mapWriteErr(err error) error {
	if isConstraintErr(err) {
		return apperrors.Wrap(apperrors.ErrConstraint, "constraint violation", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, "write failed", err)
}
