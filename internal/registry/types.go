package registry

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNotFound is returned by management operations referencing an unknown
// schedule id.
var ErrNotFound = errors.New("schedule not found")

// Kind discriminates the two trigger shapes.
type Kind int

const (
	// KindCron recurs on a five-field cron expression until removed.
	KindCron Kind = iota
	// KindOnce fires at a single absolute timestamp, then self-removes.
	KindOnce
)

// TaskFunc is the unit of scheduled work. By contract it handles its own
// failures and returns normally; the registry guards against a violated
// contract but never relies on it.
type TaskFunc func(ctx context.Context)

// Config controls trigger evaluation.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"
}

// Schedule is a point-in-time snapshot of one registered schedule.
type Schedule struct {
	ID       string
	Kind     Kind
	TaskType string
	Spec     string    // cron expression (KindCron only)
	RunAt    time.Time // target time (KindOnce only)
	Paused   bool
	Next     time.Time
	Last     time.Time
}

// ScheduleEvent is the bus payload for schedule lifecycle events.
type ScheduleEvent struct {
	ID       string    `json:"id"`
	TaskType string    `json:"task_type"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type entry struct {
	id       string
	kind     Kind
	taskType string
	fn       TaskFunc
	paused   bool

	// cron trigger
	spec    string
	sched   cron.Schedule
	entryID cron.EntryID

	// one-shot trigger
	runAt   time.Time
	timer   *time.Timer
	pending bool // fire time elapsed while paused; fires on resume

	last time.Time
}
