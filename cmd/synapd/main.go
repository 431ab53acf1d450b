// Command synapd runs the agent-management kernel: it bootstraps the
// plugin set, starts the event processor, and serves the HTTP/SSE surface.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/synapkit/synapd/internal/agent"
	"github.com/synapkit/synapd/internal/api"
	"github.com/synapkit/synapd/internal/cache"
	"github.com/synapkit/synapd/internal/config"
	"github.com/synapkit/synapd/internal/database"
	kernelevent "github.com/synapkit/synapd/internal/event"
	"github.com/synapkit/synapd/internal/metrics"
	"github.com/synapkit/synapd/internal/middleware"
	"github.com/synapkit/synapd/internal/permissions"
	"github.com/synapkit/synapd/internal/plugin"
	"github.com/synapkit/synapd/internal/scheduler"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/plugins/kvmem"
	"github.com/synapkit/synapd/plugins/pybridge"
	"github.com/synapkit/synapd/plugins/scriptmind"
	"github.com/synapkit/synapd/plugins/vision"
)

// defaultAgentID is seeded on first boot so the system handler has an
// agent to route for.
const defaultAgentID = "agent.main"

func main() {
	configPath := flag.String("config", "", "path to synapd.yaml (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("synapd: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg, func() float64 { return float64(rateLimiter.TrackedSources()) })

	registry := plugin.NewRegistry(cfg.MaxEventDepth, cfg.MaxFanOutPerEvent, cfg.PluginTimeout(), m)
	history := kernelevent.NewHistory(cfg.EventHistorySize, cfg.EventRetention())
	broker := kernelevent.NewBroker()

	var processor *kernelevent.Processor
	manager := plugin.NewManager(db, registry, func(env event.Envelope) error {
		return processor.Submit(env)
	})
	processor = kernelevent.NewProcessor(cfg.EventQueueCapacity, registry, manager, history, broker, m)

	if cfg.RedisAddr != "" {
		configCache := cache.New(cfg.RedisAddr, 5*time.Minute)
		defer configCache.Close()
		manager.SetConfigCache(configCache)
	}

	permSvc := permissions.NewService(db, manager, processor.Submit)
	sched := scheduler.New(db, processor.Submit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedDefaultAgent(ctx, db); err != nil {
		return err
	}

	// Built-in plugin factories. A factory that cannot construct (e.g. the
	// bridge without its script) is skipped at bootstrap, not fatal.
	systemHandler := agent.NewSystemHandler(defaultAgentID, registry, db,
		[]string{kvmem.ID, scriptmind.ID}, 10)
	factories := map[string]plugin.Factory{
		agent.SystemHandlerID: systemHandler.Factory(),
		kvmem.ID:              kvmem.New,
		scriptmind.ID:         scriptmind.New,
		vision.ID:             vision.New,
		pybridge.ID: func(fctx context.Context, pcfg plugin.Config) (plugin.Plugin, error) {
			if pcfg.Values == nil {
				pcfg.Values = map[string]string{}
			}
			if pcfg.Values["scripts_dir"] == "" {
				pcfg.Values["scripts_dir"] = cfg.ScriptsDir
			}
			return pybridge.New(fctx, pcfg)
		},
	}
	for name, factory := range factories {
		if err := manager.RegisterFactory(name, factory); err != nil {
			return err
		}
	}
	if cfg.PluginsFile != "" {
		if err := registerDeclaredPlugins(manager, cfg.PluginsFile, cfg.ScriptsDir); err != nil {
			return err
		}
	}
	manager.Bootstrap(ctx)

	// Background loops observe the same shutdown signal.
	stopCh := ctx.Done()
	go processor.Run(ctx)
	go history.RetentionLoop(time.Minute, stopCh)
	go rateLimiter.CleanupLoop(time.Minute, stopCh)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	if n := sched.RegisterPluginJobs(registry); n > 0 {
		log.Printf("registered %d plugin-declared jobs", n)
	}

	if configPath != "" {
		stopWatch, err := config.Watch(configPath, func(config.Config) {
			_ = processor.Submit(event.System(event.ConfigUpdated{PluginID: "kernel"}))
		})
		if err != nil {
			log.Printf("config watch disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	router := api.NewRouter(api.Deps{
		AdminKey:    cfg.AdminAPIKey,
		Processor:   processor,
		Registry:    registry,
		Manager:     manager,
		Permissions: permSvc,
		History:     history,
		Broker:      broker,
		RateLimiter: rateLimiter,
		Metrics:     m,
		Tokens:      db,
		Scheduler:   sched,
		Gatherer:    promReg,
		StartedAt:   time.Now(),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("synapd listening on %s", cfg.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	closePlugins(registry)
	return nil
}

// seedDefaultAgent inserts the default agent on first boot.
func seedDefaultAgent(ctx context.Context, db *database.DB) error {
	if _, err := db.AgentByID(ctx, defaultAgentID); err == nil {
		return nil
	} else if !errors.Is(err, database.ErrAgentNotFound) {
		return err
	}
	return db.SaveAgent(ctx, database.Agent{
		ID:                   defaultAgentID,
		Name:                 "Main Agent",
		Description:          "Default agent seeded at first boot.",
		Status:               "online",
		DefaultEngineID:      kvmem.ID,
		RequiredCapabilities: `["Reasoning","Memory"]`,
		Metadata:             `{}`,
		Enabled:              true,
	})
}

// closePlugins shuts down plugins holding external resources (subprocess
// bridges in particular).
func closePlugins(registry *plugin.Registry) {
	for _, manifest := range registry.ListPlugins() {
		inst, ok := registry.Get(manifest.ID)
		if !ok {
			continue
		}
		if closer, ok := inst.Plugin.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("plugin %s close: %v", manifest.ID, err)
			}
		}
	}
}
