package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synapkit/synapd/pkg/permission"
)

// Settings is a plugin's persisted administrative state.
type Settings struct {
	PluginID           string
	IsActive           bool
	AllowedPermissions []permission.Permission
}

// PluginSettings reads a plugin's settings row. Missing rows resolve to the
// default: active, no allowed permissions.
func (s *DB) PluginSettings(ctx context.Context, pluginID string) (Settings, error) {
	var row struct {
		IsActive           bool   `db:"is_active"`
		AllowedPermissions string `db:"allowed_permissions"`
	}
	query := s.rebind(`SELECT is_active, allowed_permissions FROM plugin_settings WHERE plugin_id = ?`)
	err := s.db.GetContext(ctx, &row, query, pluginID)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{PluginID: pluginID, IsActive: true}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings for %s: %w", pluginID, err)
	}

	var perms []permission.Permission
	if err := json.Unmarshal([]byte(row.AllowedPermissions), &perms); err != nil {
		return Settings{}, fmt.Errorf("settings for %s: invalid allowed_permissions: %w", pluginID, err)
	}
	return Settings{PluginID: pluginID, IsActive: row.IsActive, AllowedPermissions: perms}, nil
}

// SaveSettings upserts a plugin's settings row.
func (s *DB) SaveSettings(ctx context.Context, settings Settings) error {
	perms := settings.AllowedPermissions
	if perms == nil {
		perms = []permission.Permission{}
	}
	encoded, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	query := s.rebind(s.upsertQuery("plugin_settings",
		[]string{"plugin_id", "is_active", "allowed_permissions"}, []string{"plugin_id"}))
	if _, err := s.db.ExecContext(ctx, query, settings.PluginID, settings.IsActive, string(encoded)); err != nil {
		return fmt.Errorf("save settings for %s: %w", settings.PluginID, err)
	}
	return nil
}

// GetConfig reads one configuration value. Absent keys return ok=false.
func (s *DB) GetConfig(ctx context.Context, pluginID, key string) (string, bool, error) {
	var value string
	query := s.rebind(`SELECT config_value FROM plugin_configs WHERE plugin_id = ? AND config_key = ?`)
	err := s.db.GetContext(ctx, &value, query, pluginID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read config %s/%s: %w", pluginID, key, err)
	}
	return value, true, nil
}

// SetConfig writes one configuration value through to the store.
func (s *DB) SetConfig(ctx context.Context, pluginID, key, value string) error {
	query := s.rebind(s.upsertQuery("plugin_configs",
		[]string{"plugin_id", "config_key", "config_value"}, []string{"plugin_id", "config_key"}))
	if _, err := s.db.ExecContext(ctx, query, pluginID, key, value); err != nil {
		return fmt.Errorf("set config %s/%s: %w", pluginID, key, err)
	}
	return nil
}

// PluginConfigs bulk-reads all configuration values for one plugin.
func (s *DB) PluginConfigs(ctx context.Context, pluginID string) (map[string]string, error) {
	query := s.rebind(`SELECT config_key, config_value FROM plugin_configs WHERE plugin_id = ?`)
	rows, err := s.db.QueryxContext(ctx, query, pluginID)
	if err != nil {
		return nil, fmt.Errorf("read configs for %s: %w", pluginID, err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value
	}
	return configs, rows.Err()
}
