package etlsri

import (
	"strings"

	"golang.org/x/xerrors"
)

// Table is an in-memory tabular dataset: named columns and rows of string cells.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a Table from parsed records. The first record is the header.
// Rows shorter than the header are padded with empty cells.
func NewTable(records [][]string) (*Table, error) {
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, ErrNoHeader
	}

	columns := append([]string(nil), records[0]...)
	rows := make([][]string, 0, len(records)-1)

	for i, r := range records[1:] {
		if len(r) > len(columns) {
			return nil, xerrors.Errorf("line %d has %d fields, header has %d: %w", i+2, len(r), len(columns), ErrRowTooLong)
		}

		if len(r) < len(columns) {
			padded := make([]string, len(columns))
			copy(padded, r)
			r = padded
		}

		rows = append(rows, r)
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

// NormalizeColumn trims s, lowercases it and replaces spaces with underscores.
// It is idempotent.
func NormalizeColumn(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// NormalizeColumns normalizes every column name in place, keeping their order.
func (t *Table) NormalizeColumns() {
	for i, c := range t.Columns {
		t.Columns[i] = NormalizeColumn(c)
	}
}

// ColumnIndex returns the index of the column named name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}

	return -1
}

// DropEmpty removes, in place, every row whose key cell is empty and returns how many were dropped.
// A key cell exactly equal to one of nullValues also counts as empty.
// Other rows are kept unchanged and in order.
func (t *Table) DropEmpty(key string, nullValues ...string) (int, error) {
	idx := t.ColumnIndex(key)
	if idx < 0 {
		return 0, xerrors.Errorf("%q not in %v: %w", key, t.Columns, ErrKeyColumnNotFound)
	}

	null := make(map[string]bool, len(nullValues)+1)
	null[""] = true
	for _, v := range nullValues {
		null[v] = true
	}

	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if !null[r[idx]] {
			kept = append(kept, r)
		}
	}

	dropped := len(t.Rows) - len(kept)
	for i := len(kept); i < len(t.Rows); i++ {
		t.Rows[i] = nil
	}
	t.Rows = kept

	return dropped, nil
}
