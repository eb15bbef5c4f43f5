package ingest

import (
	"fmt"
	"strings"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
)

const (
	ColumnFirstName = "FirstName"
	ColumnPhone     = "Phone"
	ColumnNotes     = "Notes"
)

// RequiredColumns must be present in every uploaded list.
var RequiredColumns = []string{ColumnFirstName, ColumnPhone, ColumnNotes}

// field maps a logical record field to the header spellings accepted for it,
// in lookup order.
type field struct {
	column  string
	aliases []string
	set     func(rec *domain.Record, v string)
}

var fields = []field{
	{
		column:  ColumnFirstName,
		aliases: []string{"FirstName", "first_name", "firstName"},
		set:     func(rec *domain.Record, v string) { rec.FirstName = v },
	},
	{
		column:  ColumnPhone,
		aliases: []string{"Phone", "phone"},
		set:     func(rec *domain.Record, v string) { rec.Phone = v },
	},
	{
		column:  ColumnNotes,
		aliases: []string{"Notes", "notes"},
		set:     func(rec *domain.Record, v string) { rec.Notes = v },
	},
}

func aliasesOf(column string) []string {
	for _, f := range fields {
		if f.column == column {
			return f.aliases
		}
	}
	return []string{column}
}

type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// ValidateColumns checks the header of the first row only; uploads are
// assumed to share one schema. With no required columns given,
// RequiredColumns is used.
func ValidateColumns(rows []domain.Row, required ...string) error {
	if len(rows) == 0 {
		return ErrEmptyFile
	}
	if len(required) == 0 {
		required = RequiredColumns
	}

	header := rows[0]
	var missing []string
	for _, column := range required {
		if _, ok := lookup(header, aliasesOf(column)); !ok {
			missing = append(missing, column)
		}
	}

	if len(missing) > 0 {
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

// Normalize extracts the contact record from a row. Each field takes the
// value of its first alias present in the row, otherwise "".
func Normalize(row domain.Row) domain.Record {
	var rec domain.Record
	for _, f := range fields {
		v, _ := lookup(row, f.aliases)
		f.set(&rec, v)
	}
	return rec
}

func NormalizeAll(rows []domain.Row) []domain.Record {
	records := make([]domain.Record, len(rows))
	for i, row := range rows {
		records[i] = Normalize(row)
	}
	return records
}

func lookup(row domain.Row, keys []string) (string, bool) {
	for _, key := range keys {
		if v, ok := row[key]; ok {
			return v, true
		}
	}
	return "", false
}
