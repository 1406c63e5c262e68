// Package registry holds the set of named schedules and drives task
// execution at the right time without blocking management operations.
//
// Cron triggers ride on robfig/cron; one-shot triggers are plain timers.
// Every fire runs on its own goroutine, so a slow task never delays timer
// evaluation for sibling schedules or a concurrent management call.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"dailytask/internal/eventbus"
	"dailytask/pkg/logx"
)

type Registry struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry
	order   []string

	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	draining bool

	// now is injectable for deterministic snapshot tests.
	now func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Registry {
	return &Registry{
		log:     log,
		bus:     bus,
		cfg:     cfg,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]*entry{},
		now:     time.Now,
	}
}

// Start begins trigger evaluation. Schedules added before Start are
// registered now; Start is idempotent.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.runCtx, r.cancel = context.WithCancel(ctx)
	r.draining = false

	loc := r.loadLocationLocked()
	r.loc = loc
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	for _, id := range r.order {
		e := r.entries[id]
		if e.kind == KindCron {
			r.registerCronLocked(e)
		}
	}
	r.c.Start()
	r.log.Info("registry started",
		logx.String("tz", loc.String()),
		logx.Int("schedules", len(r.order)))
}

// Stop drains gracefully: no new fires are admitted, in-flight fires run to
// completion bounded by ctx.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.c == nil {
		r.mu.Unlock()
		return
	}
	r.draining = true
	c := r.c
	r.c = nil
	for _, e := range r.entries {
		if e.timer != nil {
			_ = e.timer.Stop()
		}
		e.entryID = 0
	}
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	// Cancel the run context so any stragglers unwind.
	if cancel != nil {
		cancel()
	}
	r.log.Info("registry stopped")
}

// AddCron registers a recurring schedule. It does not block on the first
// execution; the returned id is the only external handle.
func (r *Registry) AddCron(taskType, spec string, fn TaskFunc) (string, error) {
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{
		id:       uuid.NewString(),
		kind:     KindCron,
		taskType: taskType,
		fn:       fn,
		spec:     strings.TrimSpace(spec),
		sched:    sched,
	}
	r.entries[e.id] = e
	r.order = append(r.order, e.id)
	if r.c != nil {
		r.registerCronLocked(e)
	}
	r.log.Debug("cron schedule added",
		logx.String("id", e.id),
		logx.String("task", taskType),
		logx.String("spec", e.spec))
	return e.id, nil
}

// AddOnce registers a one-shot schedule for the given instant. A time
// already in the past fires immediately.
func (r *Registry) AddOnce(taskType string, at time.Time, fn TaskFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{
		id:       uuid.NewString(),
		kind:     KindOnce,
		taskType: taskType,
		fn:       fn,
		runAt:    at,
	}
	r.entries[e.id] = e
	r.order = append(r.order, e.id)

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	id := e.id
	e.timer = time.AfterFunc(delay, func() { r.fireOnce(id) })
	r.log.Debug("one-shot schedule added",
		logx.String("id", e.id),
		logx.String("task", taskType),
		logx.Time("at", at))
	return e.id, nil
}

// Remove cancels and deletes a schedule. An in-flight fire completes; it is
// simply never rescheduled.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	r.dropLocked(e)
	r.log.Debug("schedule removed", logx.String("id", id))
	return nil
}

// Pause suspends firing; the trigger keeps evaluating but fires are
// skipped until Resume.
func (r *Registry) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.paused = true
	r.log.Debug("schedule paused", logx.String("id", id))
	return nil
}

// Resume re-enables firing. A one-shot whose fire time elapsed while
// paused fires immediately.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	e.paused = false
	firePending := e.kind == KindOnce && e.pending
	if firePending {
		e.pending = false
		r.dropLocked(e)
	}
	r.mu.Unlock()

	if firePending {
		r.run(e)
	}
	r.log.Debug("schedule resumed", logx.String("id", id))
	return nil
}

// List returns a creation-ordered snapshot of schedules of the given kind.
func (r *Registry) List(kind Kind) []Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Schedule, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		if e.kind != kind {
			continue
		}
		s := Schedule{
			ID:       e.id,
			Kind:     e.kind,
			TaskType: e.taskType,
			Spec:     e.spec,
			RunAt:    e.runAt,
			Paused:   e.paused,
			Last:     e.last,
		}
		switch e.kind {
		case KindCron:
			s.Next = e.sched.Next(r.now().In(r.locOrLocal()))
		case KindOnce:
			s.Next = e.runAt
		}
		out = append(out, s)
	}
	return out
}

// registerCronLocked binds the entry into the running cron. The wrapper
// checks the paused gate at fire time, so Pause needs no cron surgery.
func (r *Registry) registerCronLocked(e *entry) {
	id := e.id
	eid, err := r.c.AddFunc(e.spec, func() { r.fireCron(id) })
	if err != nil {
		// Spec was validated at Add; this is unreachable in practice.
		r.log.Error("cron register failed", logx.String("id", e.id), logx.Err(err))
		return
	}
	e.entryID = eid
}

func (r *Registry) fireCron(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || r.draining {
		r.mu.Unlock()
		return
	}
	if e.paused {
		r.mu.Unlock()
		r.log.Debug("fire skipped (paused)", logx.String("id", id))
		return
	}
	e.last = r.now()
	r.mu.Unlock()

	r.run(e)
}

func (r *Registry) fireOnce(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || r.draining {
		r.mu.Unlock()
		return
	}
	if e.paused {
		// Deferred until Resume; the schedule stays listed meanwhile.
		e.pending = true
		r.mu.Unlock()
		r.log.Debug("one-shot deferred (paused)", logx.String("id", id))
		return
	}
	// Self-remove before running so List stops returning it immediately.
	r.dropLocked(e)
	r.mu.Unlock()

	r.run(e)
}

// run executes one fire on its own goroutine. A panicking task is a
// contract violation: log it, publish it, keep the registry alive.
func (r *Registry) run(e *entry) {
	r.mu.Lock()
	ctx := r.runCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		start := time.Now()
		r.publish(eventbus.EventTaskFired, e, "")
		defer func() {
			if v := recover(); v != nil {
				r.log.Error("task panicked",
					logx.String("id", e.id),
					logx.String("task", e.taskType),
					logx.Any("panic", v),
					logx.Stack(logx.StackTrace(3, 16)))
				r.publish(eventbus.EventTaskFailed, e, "panic")
				return
			}
			r.log.Info("task completed",
				logx.String("id", e.id),
				logx.String("task", e.taskType),
				logx.Duration("took", time.Since(start)))
			r.publish(eventbus.EventTaskCompleted, e, "")
		}()
		e.fn(ctx)
	}()
}

func (r *Registry) publish(typ string, e *entry, errStr string) {
	if r.bus == nil {
		return
	}
	now := time.Now()
	r.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ScheduleEvent{
		ID:       e.id,
		TaskType: e.taskType,
		At:       now,
		Error:    errStr,
	}})
}

// dropLocked removes the entry from the index and unbinds its trigger.
// Call with r.mu held.
func (r *Registry) dropLocked(e *entry) {
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
	if e.entryID != 0 && r.c != nil {
		r.c.Remove(e.entryID)
	}
	e.entryID = 0
	delete(r.entries, e.id)
	for i, id := range r.order {
		if id == e.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) locOrLocal() *time.Location {
	if r.loc != nil {
		return r.loc
	}
	return time.Local
}

func (r *Registry) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(r.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
