// Package scheduler emits kernel events on cron schedules. Schedules come
// from two places: rows persisted in the cron_jobs table, and jobs a
// plugin declares in its manifest. Either way, firing decodes the entry's
// event payload and submits it to the processor channel like any other
// ingress.
package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/pkg/event"
	pkgplugin "github.com/synapkit/synapd/pkg/plugin"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	CronJobs(ctx context.Context) ([]database.CronJob, error)
	SaveCronJob(ctx context.Context, job database.CronJob) error
	DeleteCronJob(ctx context.Context, id string) error
}

// ManifestSource lists installed plugin manifests. Implemented by the
// plugin registry.
type ManifestSource interface {
	ListPlugins() []pkgplugin.Manifest
}

// Scheduler owns the cron runner and its registered entries.
type Scheduler struct {
	store  Store
	submit func(event.Envelope) error

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// New builds a stopped scheduler.
func New(store Store, submit func(event.Envelope) error) *Scheduler {
	return &Scheduler{
		store:   store,
		submit:  submit,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads the persisted schedules and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.CronJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.registerEntry(job.ID, job.Schedule, job.EventType, job.Payload, "cron:"+job.ID); err != nil {
			log.Printf("cron job %s not scheduled: %v", job.ID, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RegisterPluginJobs registers every enabled job declared by installed
// plugin manifests and returns how many were scheduled. Call after
// plugins are bootstrapped; an invalid declaration is logged and skipped,
// never fatal to its siblings.
func (s *Scheduler) RegisterPluginJobs(source ManifestSource) int {
	registered := 0
	for _, manifest := range source.ListPlugins() {
		for _, job := range manifest.Jobs {
			if !job.Enabled {
				continue
			}
			key := manifest.ID + "/" + job.ID
			payload := string(job.Payload)
			if payload == "" {
				payload = "{}"
			}
			if err := s.registerEntry(key, job.Schedule, job.EventType, payload, "plugin:"+key); err != nil {
				log.Printf("plugin job %s not scheduled: %v", key, err)
				continue
			}
			log.Printf("registered plugin job %s (%s)", key, job.Schedule)
			registered++
		}
	}
	return registered
}

// AddJob persists a schedule and registers it immediately when enabled.
func (s *Scheduler) AddJob(ctx context.Context, job database.CronJob) error {
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return err
	}
	if _, err := event.DecodeData(event.Kind(job.EventType), json.RawMessage(job.Payload)); err != nil {
		return err
	}
	if err := s.store.SaveCronJob(ctx, job); err != nil {
		return err
	}

	s.unregister(job.ID)
	if job.Enabled {
		return s.registerEntry(job.ID, job.Schedule, job.EventType, job.Payload, "cron:"+job.ID)
	}
	return nil
}

// RemoveJob deletes a schedule.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	if err := s.store.DeleteCronJob(ctx, id); err != nil {
		return err
	}
	s.unregister(id)
	return nil
}

// Jobs lists the persisted schedules.
func (s *Scheduler) Jobs(ctx context.Context) ([]database.CronJob, error) {
	return s.store.CronJobs(ctx)
}

// registerEntry validates and schedules one entry under key. The payload
// must decode for the event type so a bad entry fails here, not at fire
// time.
func (s *Scheduler) registerEntry(key, schedule, eventType, payload, issuer string) error {
	if _, err := event.DecodeData(event.Kind(eventType), json.RawMessage(payload)); err != nil {
		return err
	}
	id, err := s.cron.AddFunc(schedule, func() { s.fire(key, eventType, payload, issuer) })
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[key] = id
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) unregister(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[key]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, key)
	}
}

func (s *Scheduler) fire(key, eventType, payload, issuer string) {
	data, err := event.DecodeData(event.Kind(eventType), json.RawMessage(payload))
	if err != nil {
		log.Printf("scheduled entry %s: bad payload: %v", key, err)
		return
	}
	env := event.System(data)
	env.Issuer = issuer
	if err := s.submit(env); err != nil {
		log.Printf("scheduled entry %s: submit failed: %v", key, err)
	}
}
