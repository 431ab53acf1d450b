package database

import (
	"fmt"
	"strings"
)

// upsertQuery builds an idempotent insert for the active driver. keyCols are
// the primary-key columns; every remaining column is overwritten on
// conflict. Placeholders are ? and must be passed in column order.
func (s *DB) upsertQuery(table string, columns, keyCols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	updateCols := make([]string, 0, len(columns))
	for _, col := range columns {
		if !contains(keyCols, col) {
			updateCols = append(updateCols, col)
		}
	}

	if s.db.DriverName() == "mysql" {
		sets := make([]string, len(updateCols))
		for i, col := range updateCols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}

	sets := make([]string, len(updateCols))
	for i, col := range updateCols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insert, strings.Join(keyCols, ", "), strings.Join(sets, ", "))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
