package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapkit/synapd/pkg/permission"
	"github.com/synapkit/synapd/pkg/plugin"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDataRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetData(ctx, "core.kvmem", "mem:a:1", []byte(`{"v":1}`)))
	require.NoError(t, db.SetData(ctx, "core.kvmem", "mem:a:1", []byte(`{"v":2}`)))

	got, err := db.GetData(ctx, "core.kvmem", "mem:a:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	require.NoError(t, db.DeleteData(ctx, "core.kvmem", "mem:a:1"))
	_, err = db.GetData(ctx, "core.kvmem", "mem:a:1")
	assert.True(t, errors.Is(err, plugin.ErrNoSuchKey))
}

func TestListDataOrdersKeysDescending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, key := range []string{"mem:a:001", "mem:a:003", "mem:a:002", "mem:b:001"} {
		require.NoError(t, db.SetData(ctx, "core.kvmem", key, []byte(`{}`)))
	}

	entries, err := db.ListData(ctx, "core.kvmem", "mem:a:")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "mem:a:003", entries[0].Key)
	assert.Equal(t, "mem:a:002", entries[1].Key)
	assert.Equal(t, "mem:a:001", entries[2].Key)
}

func TestListDataEscapesLikeMetacharacters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetData(ctx, "p", "a_b:1", []byte(`{}`)))
	require.NoError(t, db.SetData(ctx, "p", "axb:1", []byte(`{}`)))

	entries, err := db.ListData(ctx, "p", "a_b:")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_b:1", entries[0].Key)
}

func TestDataIsNamespacedPerPlugin(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetData(ctx, "plugin.a", "shared", []byte(`"a"`)))
	require.NoError(t, db.SetData(ctx, "plugin.b", "shared", []byte(`"b"`)))

	got, err := db.GetData(ctx, "plugin.a", "shared")
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(got))
}

func TestPluginSettingsDefaults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	settings, err := db.PluginSettings(ctx, "never.saved")
	require.NoError(t, err)
	assert.True(t, settings.IsActive)
	assert.Empty(t, settings.AllowedPermissions)
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.SaveSettings(ctx, Settings{
		PluginID:           "core.kvmem",
		IsActive:           true,
		AllowedPermissions: []permission.Permission{permission.MemoryRead, permission.MemoryWrite},
	})
	require.NoError(t, err)

	settings, err := db.PluginSettings(ctx, "core.kvmem")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]permission.Permission{permission.MemoryRead, permission.MemoryWrite},
		settings.AllowedPermissions)
}

func TestConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetConfig(ctx, "p", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetConfig(ctx, "p", "api_url", "https://one"))
	require.NoError(t, db.SetConfig(ctx, "p", "api_url", "https://two"))

	value, ok, err := db.GetConfig(ctx, "p", "api_url")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://two", value)

	configs, err := db.PluginConfigs(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_url": "https://two"}, configs)
}

func TestPermissionRequestLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	req := PermissionRequest{
		ID:         "req-1",
		PluginID:   "core.vision",
		Permission: permission.VisionRead,
		Status:     RequestPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.InsertPermissionRequest(ctx, req))

	pending, err := db.PendingPermissionRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "req-1", pending[0].ID)

	decided, err := db.DecidePermissionRequest(ctx, "req-1", RequestApproved, "admin", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, decided)

	// Repeat decisions are no-ops against terminal states.
	decided, err = db.DecidePermissionRequest(ctx, "req-1", RequestDenied, "admin", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, decided)

	got, err := db.PermissionRequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, got.Status)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, "admin", *got.ActorID)

	_, err = db.PermissionRequestByID(ctx, "no-such")
	assert.True(t, errors.Is(err, ErrRequestNotFound))
}

func TestAgentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	agent := Agent{
		ID:                   "agent.main",
		Name:                 "Main",
		Status:               "online",
		DefaultEngineID:      "core.scriptmind",
		RequiredCapabilities: `["Reasoning","Memory"]`,
		Metadata:             `{}`,
		Enabled:              true,
	}
	require.NoError(t, db.SaveAgent(ctx, agent))

	got, err := db.AgentByID(ctx, "agent.main")
	require.NoError(t, err)
	assert.Equal(t, "core.scriptmind", got.DefaultEngineID)

	require.NoError(t, db.SetAgentStatus(ctx, "agent.main", "offline"))
	got, err = db.AgentByID(ctx, "agent.main")
	require.NoError(t, err)
	assert.Equal(t, "offline", got.Status)

	assert.True(t, errors.Is(db.SetAgentStatus(ctx, "nope", "x"), ErrAgentNotFound))
}
