// Package app wires the bumper together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"autobump/internal/admin"
	"autobump/internal/clock"
	"autobump/internal/config"
	"autobump/internal/eventbus"
	"autobump/internal/gateway"
	"autobump/internal/notifier"
	"autobump/internal/registry"
	rtsup "autobump/internal/runtime/supervisor"
	"autobump/internal/scheduler"
	"autobump/internal/storage"
	kit "autobump/internal/transport"
	telegram "autobump/internal/transport/telegram/adapter"
	logx "autobump/pkg/logx"
	"autobump/pkg/systemd"
)

// Options are the process-level inputs the config file does not cover.
type Options struct {
	ConfigPath string
	// In and Out carry the operator console. A nil In runs headless.
	In  io.Reader
	Out io.Writer
	// Dialer defaults to the Discord gateway.
	Dialer gateway.Dialer
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.DataStore

	reg    *registry.Registry
	notif  *notifier.Service
	sched  *scheduler.Scheduler
}

// New loads config and storage. Any error here is an initialization failure.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var sender kit.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: cfg.TelegramTimeout()},
			logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = ad
	}

	logs, log := logx.New(cfg.LogConfig(), sender)
	cfgm.SetLogger(log)
	if cfgm.Missing() {
		log.Warn("config file not found, using defaults", logx.String("path", cfgm.Path()))
	}

	sc, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	reg := registry.New(store, log)
	if err := reg.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("registry loaded", logx.String("driver", sc.Driver), logx.Int("accounts", len(reg.Accounts())), logx.Int("channels", len(reg.Channels())))

	bus := eventbus.New()
	ncfg, err := cfg.NotifierConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log, bus, reg)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = gateway.NewDiscordDialer(log)
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	schedOpts := []scheduler.Option{
		scheduler.WithClock(clock.Real()),
		scheduler.WithBus(bus),
		scheduler.WithLogger(log),
		scheduler.WithConfig(schedCfg),
	}
	if opts.In != nil {
		mgr := admin.NewManager(reg, dialer, log, clock.Real(), admin.Timeouts{
			Connect:    schedCfg.ConnectTimeout,
			Disconnect: schedCfg.DisconnectTimeout,
			Lookup:     schedCfg.LookupTimeout,
		})
		out := opts.Out
		if out == nil {
			out = io.Discard
		}
		schedOpts = append(schedOpts, scheduler.WithOperator(admin.NewConsole(mgr, opts.In, out)))
	}

	return &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		bus:    bus,
		store:  store,
		reg:    reg,
		notif:  notif,
		sched:  scheduler.New(reg, dialer, schedOpts...),
	}, nil
}

// Interrupt forwards an operator interrupt (SIGINT) to the scheduler.
func (a *App) Interrupt() { a.sched.Interrupt() }

// Run starts the background services, drives the scheduler on the calling
// goroutine until it exits or ctx is cancelled, then stops everything.
func (a *App) Run(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	runCtx := a.sup.Context()

	a.notif.Start(runCtx)
	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	if d := systemd.WatchdogInterval(); d > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(d)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = systemd.Watchdog()
				}
			}
		})
	}

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}
	a.log.Info("app started")

	err := a.sched.Run(runCtx)
	reason := StopOperatorExit
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		reason = StopFatalError
	case ctx.Err() != nil:
		reason = StopSIGTERM
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Stop(stopCtx, reason)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if mc, ok := e.Data.(eventbus.ModeChanged); ok {
					_, _ = systemd.Status(mc.To)
				}
			}
		}
	})
}

func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.apply(c, last, next)
				last = next
			}
		}
	})
}

// apply pushes a validated config into the running components.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(next.LogConfig())

	if sc, err := next.SchedulerConfig(); err != nil {
		a.log.Warn("invalid bump config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	if ncfg, err := next.NotifierConfig(); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasOn && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !wasOn && ncfg.Enabled:
			a.notif.Start(ctx)
			a.log.Info("notifier enabled via config")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop shuts components down in dependency order, each step bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify STOPPING failed", logx.Err(err))
	}

	// The notifier drains its queue before the shared context goes away.
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.sup != nil {
		a.sup.Cancel()
		a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
