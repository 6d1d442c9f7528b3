// Package store tests for index queries and range scans.
package store

import (
	"testing"
)

func seedQueryRecords(t *testing.T, s *Store) {
	t.Helper()
	records := []testRecord{
		{ID: "a", Number: "N-3", Status: "open", Rank: 3},
		{ID: "b", Number: "N-1", Status: "open", Rank: 1},
		{ID: "c", Number: "N-2", Status: "closed", Rank: 2},
		{ID: "d", Number: "N-5", Status: "open", Rank: 5},
		{ID: "e", Number: "N-4", Status: "closed", Rank: 4},
	}
	for _, rec := range records {
		if _, err := s.Add("records", rec); err != nil {
			t.Fatalf("Add(%s) failed: %v", rec.ID, err)
		}
	}
}

func queryRecords(t *testing.T, s *Store, opts QueryOptions) []testRecord {
	t.Helper()
	var out []testRecord
	if err := s.QueryInto("records", opts, &out); err != nil {
		t.Fatalf("QueryInto() failed: %v", err)
	}
	return out
}

func ids(records []testRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestQuery_primaryKeyOrder verifies default scan order is by primary key.
func TestQuery_primaryKeyOrder(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	got := ids(queryRecords(t, s, QueryOptions{}))
	want := []string{"a", "b", "c", "d", "e"}
	if !equalIDs(got, want) {
		t.Errorf("Query() order = %v, want %v", got, want)
	}
}

// TestQuery_indexOrder verifies ordering by a secondary index.
func TestQuery_indexOrder(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	got := ids(queryRecords(t, s, QueryOptions{Index: "number"}))
	want := []string{"b", "c", "a", "e", "d"} // N-1, N-2, N-3, N-4, N-5
	if !equalIDs(got, want) {
		t.Errorf("Query(number) order = %v, want %v", got, want)
	}
}

// TestQuery_numericIndexOrder verifies numeric index columns sort numerically.
func TestQuery_numericIndexOrder(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	// Add a two-digit rank; a text sort would place "10" before "2".
	if _, err := s.Add("records", testRecord{ID: "f", Number: "N-10", Status: "open", Rank: 10}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got := ids(queryRecords(t, s, QueryOptions{Index: "rank"}))
	want := []string{"b", "c", "a", "e", "d", "f"}
	if !equalIDs(got, want) {
		t.Errorf("Query(rank) order = %v, want %v", got, want)
	}
}

// TestQuery_descending verifies reverse scans.
func TestQuery_descending(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	got := ids(queryRecords(t, s, QueryOptions{Index: "number", Direction: Desc}))
	want := []string{"d", "e", "a", "c", "b"}
	if !equalIDs(got, want) {
		t.Errorf("Query(number desc) order = %v, want %v", got, want)
	}
}

// TestQuery_only verifies exact-match range queries.
func TestQuery_only(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	got := ids(queryRecords(t, s, QueryOptions{Index: "status", Range: Only("closed")}))
	want := []string{"c", "e"}
	if !equalIDs(got, want) {
		t.Errorf("Query(status=closed) = %v, want %v", got, want)
	}
}

// TestQuery_bounds verifies lower/upper bounded scans, open and closed.
func TestQuery_bounds(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	tests := []struct {
		name string
		rng  *Range
		want []string
	}{
		{"closed bounds", &Range{Lower: 2, Upper: 4}, []string{"c", "a", "e"}},
		{"open lower", &Range{Lower: 2, LowerOpen: true, Upper: 4}, []string{"a", "e"}},
		{"open upper", &Range{Lower: 2, Upper: 4, UpperOpen: true}, []string{"c", "a"}},
		{"lower only", &Range{Lower: 4}, []string{"e", "d"}},
		{"upper only", &Range{Upper: 1}, []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(queryRecords(t, s, QueryOptions{Index: "rank", Range: tt.rng}))
			if !equalIDs(got, tt.want) {
				t.Errorf("Query(rank %s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

// TestQuery_limitOffset verifies pagination.
func TestQuery_limitOffset(t *testing.T) {
	s := openTestStore(t)
	seedQueryRecords(t, s)

	got := ids(queryRecords(t, s, QueryOptions{Index: "number", Limit: 2}))
	if !equalIDs(got, []string{"b", "c"}) {
		t.Errorf("Query(limit 2) = %v, want [b c]", got)
	}

	got = ids(queryRecords(t, s, QueryOptions{Index: "number", Limit: 2, Offset: 2}))
	if !equalIDs(got, []string{"a", "e"}) {
		t.Errorf("Query(limit 2 offset 2) = %v, want [a e]", got)
	}

	got = ids(queryRecords(t, s, QueryOptions{Index: "number", Offset: 4}))
	if !equalIDs(got, []string{"d"}) {
		t.Errorf("Query(offset 4) = %v, want [d]", got)
	}
}

// TestQuery_unknownIndex verifies undeclared indexes are rejected.
func TestQuery_unknownIndex(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Query("records", QueryOptions{Index: "nosuch"})
	if err == nil {
		t.Error("Query() with unknown index should fail")
	}
}

// TestQuery_rangeWithoutIndex verifies ranges require an index.
func TestQuery_rangeWithoutIndex(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Query("records", QueryOptions{Range: Only("open")})
	if err == nil {
		t.Error("Query() with range but no index should fail")
	}
}

// TestQuery_empty verifies an empty collection yields no records.
func TestQuery_empty(t *testing.T) {
	s := openTestStore(t)

	docs, err := s.Query("records", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Query() on empty collection returned %d records", len(docs))
	}
}
