// Package app wires configuration, storage, the notifier, and the scheduler
// into the running service.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"formwatch/internal/config"
	"formwatch/internal/notify"
	"formwatch/internal/pipeline"
	"formwatch/internal/scheduler"
	"formwatch/internal/store"

	logx "formwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	st    *store.Store
	nc    *notify.Client
	pipe  *pipeline.Pipeline
	sched *scheduler.Service

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		TablePrefix: cfg.Storage.TablePrefix,
		BusyTimeout: busy,
	}, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	nc := notify.New(notifyClientConfig(cfg), logSvc.Logger().With(logx.String("comp", "notify")))
	pipe := pipeline.New(st, nc, logSvc.Logger().With(logx.String("comp", "pipeline")))
	sched := scheduler.New(scheduler.Config{
		Spec:     cfg.Scanner.Spec,
		Timezone: cfg.Scanner.Timezone,
	}, logSvc.Logger().With(logx.String("comp", "scheduler")))

	return &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log,
		st:    st,
		nc:    nc,
		pipe:  pipe,
		sched: sched,
	}, nil
}

func notifyClientConfig(cfg *config.Config) notify.Config {
	timeout, _ := config.ParseDurationOrDefault("notify.timeout", cfg.Notify.Timeout, config.DefaultTimeout)
	rps := cfg.Notify.RatePerSec
	if rps <= 0 {
		rps = config.DefaultRatePerSec
	}
	return notify.Config{Timeout: timeout, RatePerSec: rps}
}

// passConfig builds the immutable snapshot one pass runs with. The webhook is
// blanked when outside the accepted namespace, which disables the pass.
func passConfig(cfg *config.Config) pipeline.PassConfig {
	window, _ := config.ParseDurationOrDefault("scanner.window", cfg.Scanner.Window, config.DefaultWindow)
	pc := pipeline.PassConfig{
		SiteTitle: cfg.Notify.SiteTitle,
		Rules:     cfg.Notify.FieldRules(),
		Window:    window,
	}
	if cfg.Notify.WebhookEnabled() {
		pc.Webhook = cfg.Notify.Webhook
	}
	return pc
}

// Start launches the config watcher and the periodic scan, then signals
// systemd readiness.
func (a *App) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(watchCtx)
	}()

	// Reloads re-apply runtime settings between passes. Scheduler cadence is
	// fixed for the process lifetime; everything else follows the config.
	updates := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok || cfg == nil {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	if err := a.sched.Start(ctx, func(ctx context.Context) {
		a.runPass(ctx)
	}); err != nil {
		cancel()
		return err
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}

	a.log.Info("formwatch started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.nc.Apply(notifyClientConfig(cfg))
	a.log.Info("config reloaded",
		logx.Bool("webhook_enabled", cfg.Notify.WebhookEnabled()),
		logx.Int("form_overrides", len(cfg.Notify.Forms)),
	)
}

// runPass executes one scan pass against the current config snapshot.
func (a *App) runPass(ctx context.Context) {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return
	}

	start := time.Now()
	stats, err := a.pipe.Run(ctx, passConfig(cfg))
	if err != nil {
		a.log.Error("pass aborted", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	if stats.Scanned > 0 {
		a.log.Info("pass finished",
			logx.Int("scanned", stats.Scanned),
			logx.Int("skipped", stats.Skipped),
			logx.Int("sent", stats.Sent),
			logx.Int("released", stats.Released),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// RunOnce performs a single pass and returns its error (used by --once).
func (a *App) RunOnce(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	stats, err := a.pipe.Run(ctx, passConfig(cfg))
	if err != nil {
		return err
	}
	a.log.Info("pass finished",
		logx.Int("scanned", stats.Scanned),
		logx.Int("skipped", stats.Skipped),
		logx.Int("sent", stats.Sent),
		logx.Int("released", stats.Released),
	)
	return nil
}

// Stop shuts the service down: scheduler first so no new pass starts, then
// the store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err == nil && sent {
		a.log.Debug("sd_notify: stopping")
	}

	a.sched.Stop(ctx)
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.wg.Wait()

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("formwatch stopped")
	return a.logs.Close()
}
