package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/synapkit/synapd/pkg/plugin"
)

// SetData upserts one value in a plugin's private namespace.
func (s *DB) SetData(ctx context.Context, pluginID, key string, value []byte) error {
	query := s.rebind(s.upsertQuery("plugin_data",
		[]string{"plugin_id", "key", "value"}, []string{"plugin_id", "key"}))
	if _, err := s.db.ExecContext(ctx, query, pluginID, key, string(value)); err != nil {
		return fmt.Errorf("set data %s/%s: %w", pluginID, key, err)
	}
	return nil
}

// GetData reads one value from a plugin's namespace.
func (s *DB) GetData(ctx context.Context, pluginID, key string) ([]byte, error) {
	var value string
	query := s.rebind(`SELECT value FROM plugin_data WHERE plugin_id = ? AND key = ?`)
	err := s.db.GetContext(ctx, &value, query, pluginID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, plugin.ErrNoSuchKey
	}
	if err != nil {
		return nil, fmt.Errorf("get data %s/%s: %w", pluginID, key, err)
	}
	return []byte(value), nil
}

// DeleteData removes one key. Absent keys are not an error.
func (s *DB) DeleteData(ctx context.Context, pluginID, key string) error {
	query := s.rebind(`DELETE FROM plugin_data WHERE plugin_id = ? AND key = ?`)
	if _, err := s.db.ExecContext(ctx, query, pluginID, key); err != nil {
		return fmt.Errorf("delete data %s/%s: %w", pluginID, key, err)
	}
	return nil
}

// ListData returns a plugin's entries under prefix, keys descending.
func (s *DB) ListData(ctx context.Context, pluginID, prefix string) ([]plugin.Entry, error) {
	query := s.rebind(`
		SELECT key, value FROM plugin_data
		WHERE plugin_id = ? AND key LIKE ? ESCAPE '\'
		ORDER BY key DESC`)
	rows, err := s.db.QueryxContext(ctx, query, pluginID, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list data %s/%s*: %w", pluginID, prefix, err)
	}
	defer rows.Close()

	var entries []plugin.Entry
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		entries = append(entries, plugin.Entry{Key: key, Value: []byte(value)})
	}
	return entries, rows.Err()
}

// escapeLike neutralizes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
