package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/pkg/event"
	pkgplugin "github.com/synapkit/synapd/pkg/plugin"
)

func fixture(t *testing.T) (*Scheduler, *database.DB, *submissions) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	subs := &submissions{}
	s := New(db, subs.submit)
	t.Cleanup(s.Stop)
	return s, db, subs
}

type submissions struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (s *submissions) submit(env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func TestAddJobValidatesScheduleAndPayload(t *testing.T) {
	s, _, _ := fixture(t)
	ctx := context.Background()

	err := s.AddJob(ctx, database.CronJob{
		ID: "bad-schedule", Schedule: "not a cron", EventType: "SystemNotification",
		Payload: `{"text":"x"}`, Enabled: true,
	})
	assert.Error(t, err)

	err = s.AddJob(ctx, database.CronJob{
		ID: "bad-type", Schedule: "@hourly", EventType: "NoSuchEvent",
		Payload: `{}`, Enabled: true,
	})
	assert.Error(t, err)

	err = s.AddJob(ctx, database.CronJob{
		ID: "ok", Schedule: "@hourly", EventType: "SystemNotification",
		Payload: `{"text":"tick"}`, Enabled: true,
	})
	require.NoError(t, err)

	jobs, err := s.Jobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestFireDecodesAndSubmits(t *testing.T) {
	s, _, subs := fixture(t)

	s.fire("tick", "SystemNotification", `{"text":"scheduled hello"}`, "cron:tick")

	subs.mu.Lock()
	defer subs.mu.Unlock()
	require.Len(t, subs.envs, 1)
	assert.Equal(t, "cron:tick", subs.envs[0].Issuer)
	data, ok := subs.envs[0].Event.Data.(event.SystemNotification)
	require.True(t, ok)
	assert.Equal(t, "scheduled hello", data.Text)
}

type staticManifests []pkgplugin.Manifest

func (s staticManifests) ListPlugins() []pkgplugin.Manifest { return s }

func manifestWithJobs(id string, jobs ...pkgplugin.JobSpec) pkgplugin.Manifest {
	return pkgplugin.Manifest{
		ID: id, Name: "Jobs", Version: "1.0",
		Category: pkgplugin.CategoryTool, ServiceType: pkgplugin.ServiceSkill,
		IsActive: true, IsConfigured: true,
		MagicSeal: pkgplugin.MagicSeal, SDKVersion: pkgplugin.SDKVersion,
		Jobs: jobs,
	}
}

func TestRegisterPluginJobs(t *testing.T) {
	s, _, _ := fixture(t)

	registered := s.RegisterPluginJobs(staticManifests{
		manifestWithJobs("core.reporter",
			pkgplugin.JobSpec{
				ID: "heartbeat", Schedule: "@hourly", EventType: "SystemNotification",
				Payload: []byte(`{"text":"still here"}`), Enabled: true,
			},
			pkgplugin.JobSpec{
				ID: "disabled", Schedule: "@hourly", EventType: "SystemNotification",
				Payload: []byte(`{}`), Enabled: false,
			},
		),
	})

	assert.Equal(t, 1, registered, "disabled jobs are skipped")

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries["core.reporter/heartbeat"]
	assert.True(t, ok, "entries are keyed plugin-id/job-id")
}

func TestRegisterPluginJobsSkipsInvalidDeclarations(t *testing.T) {
	s, _, _ := fixture(t)

	registered := s.RegisterPluginJobs(staticManifests{
		manifestWithJobs("core.broken",
			pkgplugin.JobSpec{
				ID: "bad-schedule", Schedule: "never o'clock", EventType: "SystemNotification",
				Payload: []byte(`{}`), Enabled: true,
			},
			pkgplugin.JobSpec{
				ID: "bad-type", Schedule: "@daily", EventType: "NoSuchEvent",
				Payload: []byte(`{}`), Enabled: true,
			},
			pkgplugin.JobSpec{
				ID: "fine", Schedule: "@daily", EventType: "SystemNotification",
				Payload: []byte(`{"text":"ok"}`), Enabled: true,
			},
		),
	})

	assert.Equal(t, 1, registered, "invalid declarations never block their siblings")
}

func TestPluginJobFiresWithPluginIssuer(t *testing.T) {
	s, _, subs := fixture(t)

	s.RegisterPluginJobs(staticManifests{
		manifestWithJobs("core.reporter",
			pkgplugin.JobSpec{
				ID: "heartbeat", Schedule: "@hourly", EventType: "SystemNotification",
				Payload: []byte(`{"text":"beat"}`), Enabled: true,
			},
		),
	})

	s.fire("core.reporter/heartbeat", "SystemNotification", `{"text":"beat"}`, "plugin:core.reporter/heartbeat")

	subs.mu.Lock()
	defer subs.mu.Unlock()
	require.Len(t, subs.envs, 1)
	assert.Equal(t, "plugin:core.reporter/heartbeat", subs.envs[0].Issuer)
}

func TestStartLoadsOnlyEnabledJobs(t *testing.T) {
	s, db, _ := fixture(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCronJob(ctx, database.CronJob{
		ID: "on", Schedule: "@hourly", EventType: "SystemNotification", Payload: `{"text":"a"}`, Enabled: true,
	}))
	require.NoError(t, db.SaveCronJob(ctx, database.CronJob{
		ID: "off", Schedule: "@hourly", EventType: "SystemNotification", Payload: `{"text":"b"}`, Enabled: false,
	}))

	require.NoError(t, s.Start(ctx))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.entries, 1)
	_, ok := s.entries["on"]
	assert.True(t, ok)
}

func TestRemoveJob(t *testing.T) {
	s, _, _ := fixture(t)
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, database.CronJob{
		ID: "gone", Schedule: "@daily", EventType: "SystemNotification", Payload: `{"text":"x"}`, Enabled: true,
	}))
	require.NoError(t, s.RemoveJob(ctx, "gone"))

	jobs, err := s.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
