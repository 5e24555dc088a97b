package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Column describes one column of a state table as the database reports it.
type Column struct {
	Field      string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// GetTableColumns returns the columns of table, or none when the table does
// not exist. Names and types are lower-cased so both dialects compare alike.
func GetTableColumns(db *gorm.DB, table string) ([]Column, error) {
	m := db.Migrator()
	if !m.HasTable(table) {
		return nil, nil
	}
	types, err := m.ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}

	columns := make([]Column, 0, len(types))
	for _, ct := range types {
		col := Column{
			Field: strings.ToLower(ct.Name()),
			Type:  strings.ToLower(ct.DatabaseTypeName()),
		}
		col.Nullable, _ = ct.Nullable()
		col.PrimaryKey, _ = ct.PrimaryKey()
		columns = append(columns, col)
	}
	return columns, nil
}
