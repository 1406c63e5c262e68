// Package task holds the orchestration layer between the scheduler and the
// portal clients. Tasks never propagate failure upward: every error path
// ends in a best-effort error notification, so the schedule registry only
// ever sees a function that returns.
package task

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"dailytask/internal/attendance"
	"dailytask/internal/billing"
	"dailytask/internal/notify"
	"dailytask/pkg/logx"
)

const (
	topicDaily = "daily"
	topicError = "error"
)

type BillingAPI interface {
	FetchEnergyBills(ctx context.Context, page int) (*billing.BillsPage, error)
	FetchBalance(ctx context.Context) (string, error)
}

type AttendanceAPI interface {
	CheckIn(ctx context.Context) (*attendance.CheckInResult, error)
	CheckInStatus(ctx context.Context) (*attendance.DayTeam, error)
}

type Notifier interface {
	Notify(ctx context.Context, m notify.Message)
}

type WorkdayOracle interface {
	IsWorkday(ctx context.Context) (bool, error)
}

// Jitter bounds the random pre-task delay used to avoid a fixed, detectable
// execution time.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

type Runner struct {
	billing    BillingAPI
	attendance AttendanceAPI
	notifier   Notifier
	oracle     WorkdayOracle
	jitter     Jitter
	log        logx.Logger

	// sleep and randDelay are seams for deterministic tests.
	sleep     func(ctx context.Context, d time.Duration)
	randDelay func(j Jitter) time.Duration
}

func NewRunner(b BillingAPI, a AttendanceAPI, n Notifier, o WorkdayOracle, jitter Jitter, log logx.Logger) *Runner {
	return &Runner{
		billing:    b,
		attendance: a,
		notifier:   n,
		oracle:     o,
		jitter:     jitter,
		log:        log,
		sleep:      sleepCtx,
		randDelay:  randomDelay,
	}
}

// DailyBills fetches the latest settled energy bill plus the prepay balance
// and pushes a summary notification.
func (r *Runner) DailyBills(ctx context.Context) {
	defer r.recoverPanic(ctx, "获取电费账单异常")
	r.log.Info("fetch daily bills start")
	defer r.log.Info("fetch daily bills end")

	page, err := r.billing.FetchEnergyBills(ctx, 1)
	if err != nil {
		r.reportError(ctx, "获取电费账单异常", err)
		return
	}
	if len(page.Content) == 0 {
		r.reportError(ctx, "获取电费账单异常", fmt.Errorf("no settled bills returned"))
		return
	}
	balance, err := r.billing.FetchBalance(ctx)
	if err != nil {
		r.reportError(ctx, "获取电费账单异常", err)
		return
	}

	r.notifier.Notify(ctx, notify.Message{
		Topic: topicDaily,
		Title: "电费账单",
		Body:  formatBillMessage(page.Content[0], balance),
	})
}

// CheckIn submits an attendance punch, reads back the day's punch summary
// and pushes it as a notification.
func (r *Runner) CheckIn(ctx context.Context) {
	defer r.recoverPanic(ctx, "打卡异常")
	r.log.Info("touching fish start")
	defer r.log.Info("touching fish end")

	res, err := r.attendance.CheckIn(ctx)
	if err != nil {
		r.reportError(ctx, "打卡异常", err)
		return
	}
	status, err := r.attendance.CheckInStatus(ctx)
	if err != nil {
		r.reportError(ctx, "打卡异常", err)
		return
	}

	r.notifier.Notify(ctx, notify.Message{
		Topic: topicDaily,
		Title: "⏰" + res.Msg,
		Body:  formatPunchMessage(status.KqCountSimple),
	})
}

// DailyBillsOnWorkday skips entirely (no notification) on non-workdays.
func (r *Runner) DailyBillsOnWorkday(ctx context.Context) {
	r.onWorkday(ctx, "获取电费账单异常", r.DailyBills)
}

// CheckInOnWorkday skips entirely (no notification) on non-workdays.
func (r *Runner) CheckInOnWorkday(ctx context.Context) {
	r.onWorkday(ctx, "打卡异常", r.CheckIn)
}

// CheckInWithJitter suspends for a random bounded interval before punching,
// so the punch does not land at a fixed, detectable time.
func (r *Runner) CheckInWithJitter(ctx context.Context) {
	d := r.randDelay(r.jitter)
	r.log.Info("touching fish scheduled", logx.Duration("delay", d))
	r.sleep(ctx, d)
	r.CheckIn(ctx)
}

// CheckInWithJitterOnWorkday is the cron-facing variant: workday gate
// first, then jittered punch.
func (r *Runner) CheckInWithJitterOnWorkday(ctx context.Context) {
	r.onWorkday(ctx, "打卡异常", r.CheckInWithJitter)
}

func (r *Runner) onWorkday(ctx context.Context, errTitle string, task func(context.Context)) {
	ok, err := r.oracle.IsWorkday(ctx)
	if err != nil {
		r.reportError(ctx, errTitle, err)
		return
	}
	if !ok {
		r.log.Info("holiday, skipping")
		return
	}
	task(ctx)
}

// reportError converts any task failure into a maximum-priority
// notification carrying the failure detail and a captured stack.
func (r *Runner) reportError(ctx context.Context, title string, err error) {
	r.log.Error("task failed", logx.String("task", title), logx.Err(err))
	r.notifier.Notify(ctx, notify.Message{
		Topic:    topicError,
		Priority: notify.PriorityMax,
		Body:     fmt.Sprintf("%s\n%v\n\n%s", title, err, logx.StackTrace(3, 16)),
	})
}

func (r *Runner) recoverPanic(ctx context.Context, title string) {
	if v := recover(); v != nil {
		r.reportError(ctx, title, fmt.Errorf("panic: %v", v))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func randomDelay(j Jitter) time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + time.Duration(rand.Int63n(int64(j.Max-j.Min)))
}
