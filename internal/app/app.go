// Package app assembles the daemon: config, logging, portal clients,
// notification fanout, the schedule registry, and the management API.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dailytask/internal/attendance"
	"dailytask/internal/billing"
	"dailytask/internal/config"
	"dailytask/internal/eventbus"
	"dailytask/internal/notify"
	"dailytask/internal/registry"
	"dailytask/internal/server"
	"dailytask/internal/task"
	"dailytask/internal/tokenstore"
	"dailytask/internal/workday"
	logx "dailytask/pkg/logx"
)

const (
	TaskBilling    = "billing"
	TaskAttendance = "attendance"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus    eventbus.Bus
	store  tokenstore.Store
	runner *task.Runner
	reg    *registry.Registry
	srv    *server.Server

	reloadCh  chan *config.Config
	watchDone chan struct{}
	busUnsub  func()

	taskFailures   atomic.Uint64
	notifyFailures atomic.Uint64
}

// New loads and validates config, then wires every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	store, err := tokenstore.Open(tokenstore.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
	}, a.log.With(logx.String("comp", "tokenstore")))
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	a.store = store

	bill, err := billing.New(billing.Config{
		BaseURL:  cfg.Billing.BaseURL,
		Account:  cfg.Billing.Account,
		Password: cfg.Billing.Password,
	}, store, a.log.With(logx.String("comp", "billing")))
	if err != nil {
		return fmt.Errorf("billing client: %w", err)
	}

	att, err := attendance.New(attendance.Config{
		BaseURL:   cfg.Attendance.BaseURL,
		UserAgent: cfg.Attendance.UserAgent,
		AppSecret: cfg.Attendance.AppSecret,
		LoginID:   cfg.Attendance.LoginID,
		AgentID:   cfg.Attendance.AgentID,
		Longitude: cfg.Attendance.Longitude,
		Latitude:  cfg.Attendance.Latitude,
		Address:   cfg.Attendance.Address,
	}, a.log.With(logx.String("comp", "attendance")))
	if err != nil {
		return fmt.Errorf("attendance client: %w", err)
	}

	senders := []notify.Sender{
		notify.NewNtfy(cfg.Ntfy.BaseURL, cfg.Ntfy.Username, cfg.Ntfy.Password,
			a.log.With(logx.String("comp", "ntfy"))),
	}
	if cfg.Telegram != nil {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID,
			a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram sender: %w", err)
		}
		senders = append(senders, tg)
	}
	notifier := notify.NewService(a.log.With(logx.String("comp", "notify")), a.bus, senders...)

	oracle := workday.NewOracle(cfg.Workday.BaseURL)

	jmin, jmax, err := cfg.Attendance.JitterBounds()
	if err != nil {
		return err
	}
	a.runner = task.NewRunner(bill, att, notifier, oracle,
		task.Jitter{Min: jmin, Max: jmax},
		a.log.With(logx.String("comp", "task")))

	a.reg = registry.New(registry.Config{Timezone: cfg.Scheduler.Timezone},
		a.log.With(logx.String("comp", "registry")), a.bus)

	if cfg.Server.Enabled {
		token := cfg.Server.Token
		if token == "" {
			token = server.GenerateToken()
			a.log.Info("generated api token", logx.String("token", token))
		}
		a.srv = server.New(server.Config{Addr: cfg.Server.Addr, Token: token},
			a.reg, a.taskFuncs(), a.log.With(logx.String("comp", "api")))
	}
	return nil
}

// taskFuncs maps API task type names to runner entry points. Manual triggers
// skip both the jitter and the workday gate so they always execute.
func (a *App) taskFuncs() map[string]registry.TaskFunc {
	return map[string]registry.TaskFunc{
		TaskBilling:    a.runner.DailyBills,
		TaskAttendance: a.runner.CheckIn,
	}
}

// cronFunc picks the scheduled entry point for a task type per config gates.
func (a *App) cronFunc(cfg *config.Config, taskType string) registry.TaskFunc {
	switch taskType {
	case TaskBilling:
		if cfg.Billing.WorkdayOnly {
			return a.runner.DailyBillsOnWorkday
		}
		return a.runner.DailyBills
	case TaskAttendance:
		return a.runner.CheckInWithJitterOnWorkday
	}
	return nil
}

func (a *App) registerCrons(cfg *config.Config) error {
	for _, spec := range cfg.Billing.Cron {
		if _, err := a.reg.AddCron(TaskBilling, spec, a.cronFunc(cfg, TaskBilling)); err != nil {
			return fmt.Errorf("billing cron %q: %w", spec, err)
		}
	}
	for _, spec := range cfg.Attendance.Cron {
		if _, err := a.reg.AddCron(TaskAttendance, spec, a.cronFunc(cfg, TaskAttendance)); err != nil {
			return fmt.Errorf("attendance cron %q: %w", spec, err)
		}
	}
	return nil
}

// Start brings the daemon up: cron registration, registry start, API server,
// config watch, and the systemd readiness signal.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()
	if err := a.registerCrons(cfg); err != nil {
		return err
	}

	busCh, unsub := a.bus.Subscribe(16)
	a.busUnsub = unsub
	go a.eventLoop(ctx, busCh)

	a.reg.Start(ctx)

	if a.srv != nil {
		if err := a.srv.Start(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	a.reloadCh = a.cfgMgr.Subscribe(1)
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		_ = a.cfgMgr.Watch(ctx)
	}()
	go a.reloadLoop(ctx)

	// no-op outside systemd
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("daemon started")
	return nil
}

// eventLoop is the daemon's bus consumer: every schedule fire outcome and
// notification failure lands in one log stream with running failure counts.
func (a *App) eventLoop(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.handleEvent(ev)
		}
	}
}

func (a *App) handleEvent(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventTaskFailed:
		a.log.Warn("task failed",
			logx.Any("event", ev.Data),
			logx.Int("task_failures", int(a.taskFailures.Add(1))))
	case eventbus.EventNotifyFailed:
		a.log.Warn("notification failed",
			logx.Any("event", ev.Data),
			logx.Int("notify_failures", int(a.notifyFailures.Add(1))))
	case eventbus.EventTaskCompleted:
		a.log.Debug("task completed", logx.Any("event", ev.Data))
	case eventbus.EventConfigReloaded:
		a.log.Info("configuration reloaded")
	}
}

// reloadLoop applies hot-reloadable settings: log level/sinks and cron
// specs. Portal credentials and addresses need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.reloadCh:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.reapplyCrons(cfg)
			a.bus.Publish(eventbus.Event{Type: eventbus.EventConfigReloaded, Time: time.Now()})
		}
	}
}

// reapplyCrons replaces all cron schedules with the new config's, leaving
// one-shot schedules untouched.
func (a *App) reapplyCrons(cfg *config.Config) {
	for _, s := range a.reg.List(registry.KindCron) {
		_ = a.reg.Remove(s.ID)
	}
	if err := a.registerCrons(cfg); err != nil {
		a.log.Error("cron reload failed", logx.Err(err))
	}
}

// Stop drains in reverse start order, bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.srv != nil {
		a.srv.Stop(ctx)
	}
	a.reg.Stop(ctx)
	if a.busUnsub != nil {
		a.busUnsub()
	}
	if a.reloadCh != nil {
		a.cfgMgr.Unsubscribe(a.reloadCh)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("daemon stopped")
	a.logSvc.Close()
}

// Runner exposes the task runner for one-off command line runs.
func (a *App) Runner() *task.Runner { return a.runner }

// ForceDebugLogging switches to debug-level console logging regardless of
// the configured level, keeping the configured file sink.
func (a *App) ForceDebugLogging() {
	cfg := a.cfgMgr.Get()
	a.logSvc.Apply(logx.Config{
		Level:   "debug",
		Console: true,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
}
