package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/clinic-intake/catalog"
	"github.com/songzhibin97/clinic-intake/config"
	"github.com/songzhibin97/clinic-intake/events"
	"github.com/songzhibin97/clinic-intake/lifecycle"
	"github.com/songzhibin97/clinic-intake/logging"
	"github.com/songzhibin97/clinic-intake/storage"
	"github.com/songzhibin97/clinic-intake/types"
	"github.com/songzhibin97/clinic-intake/workflow"
)

// app holds the wired core for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	catalog  *catalog.Catalog
	store    storage.Storage
	bus      *events.EventBus
	generate generator.Generator
	engine   *workflow.Engine
	manager  *lifecycle.Manager
	closers  []func() error
}

func newApp(configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogPretty, nil)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.catalog = catalog.Default()
	if cfg.CatalogFile != "" {
		if a.catalog, err = catalog.Load(cfg.CatalogFile); err != nil {
			return nil, err
		}
	}

	switch cfg.Storage {
	case config.StorageRedis:
		rs, err := storage.NewRedisStorage(storage.RedisOptions{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     10,
			MinIdleConns: 1,
			IdleTimeout:  5 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		a.store = rs
		a.closers = append(a.closers, rs.Close)
		logger.Debug().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	default:
		a.store = storage.NewMemoryStorage()
	}

	a.bus = events.NewEventBus(events.WithLogger(logger))
	a.bus.SubscribeFunc(events.All, a.notify)
	a.closers = append(a.closers, func() error { a.bus.Stop(); return nil })

	a.generate = generator.NewSnowflake(time.Now().Add(-1*time.Second), cfg.MachineID)

	if a.engine, err = workflow.NewEngine(a.generate,
		workflow.WithEventBus(a.bus),
		workflow.WithLogger(logger.With().Str("component", "workflow").Logger()),
	); err != nil {
		return nil, err
	}
	if a.manager, err = lifecycle.NewManager(a.store, a.catalog, a.generate,
		lifecycle.WithEventBus(a.bus),
		lifecycle.WithLogger(logger.With().Str("component", "lifecycle").Logger()),
		lifecycle.WithInitialStatus(cfg.Status()),
	); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
}

// notify stands in for the notification collaborator: failures surface by
// error kind, everything else as an informational line.
func (a *app) notify(ctx context.Context, event events.Event) error {
	entry := a.logger.Info()
	if event.Kind != "" {
		entry = a.logger.Warn().Str("kind", string(event.Kind))
	}
	entry.Str("event", event.Type).Str("subject", event.Subject).Fields(event.Data).Msg("notification")
	return nil
}

// warnIfEphemeral flags commands that read appointments booked by earlier
// runs while the store only lives for this process.
func (a *app) warnIfEphemeral(command string) {
	if a.cfg.Storage != config.StorageMemory {
		return
	}
	a.logger.Warn().Str("command", command).Str("storage", a.cfg.Storage).
		Msg("memory storage only holds appointments booked by this process; set CLINIC_STORAGE=redis to share them")
}

// submitCtx bounds a submission by the configured timeout.
func (a *app) submitCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.cfg.SubmitTimeout)
}

// fill walks inst forward, answering each step from answers and advancing
// until the last step. Attachments go through AttachFile.
func (a *app) fill(ctx context.Context, inst *workflow.Instance, answers map[string]interface{}) error {
	steps := inst.Definition().Steps
	for idx, step := range steps {
		for _, key := range step.Keys() {
			v, ok := answers[key]
			if !ok {
				continue
			}
			var err error
			if file, isFile := v.(types.Attachment); isFile {
				err = a.engine.AttachFile(inst, key, file)
			} else {
				err = a.engine.SetAnswer(inst, key, v)
			}
			if err != nil {
				return err
			}
		}
		if idx < len(steps)-1 {
			if err := a.engine.Advance(ctx, inst); err != nil {
				return fmt.Errorf("step %s: %w", step.ID, err)
			}
		}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
