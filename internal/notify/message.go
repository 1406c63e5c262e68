// Package notify delivers fire-and-forget notifications. Delivery failures
// are logged, never escalated to callers: the task layer depends on Notify
// being safe to call from its own error path.
package notify

import "context"

// Priority levels, matching ntfy's 1..5 scale.
const (
	PriorityMin     = 1
	PriorityLow     = 2
	PriorityDefault = 3
	PriorityHigh    = 4
	PriorityMax     = 5
)

// Message is a write-only notification value. Only Topic and Body are
// required; everything else is channel-dependent decoration.
type Message struct {
	Topic    string
	Title    string
	Body     string
	Priority int
	Tags     []string
	Click    string
	Icon     string
	Markdown bool
	Delay    string
	Email    string
	Filename string
	Attach   string
}

// Sender is one delivery channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, m Message) error
}
