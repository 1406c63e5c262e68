package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"dailytask/internal/eventbus"
	"dailytask/pkg/logx"
)

const defaultRatePerSec = 3

// Event is published on the bus for every delivery attempt.
type Event struct {
	Channel string    `json:"channel"`
	Topic   string    `json:"topic"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Service fans a message out to every configured channel, rate-limited.
// Notify never reports failure to the caller: per contract the task layer
// may call it from its own error path without another error boundary.
type Service struct {
	senders []Sender
	limiter *rate.Limiter
	bus     eventbus.Bus
	log     logx.Logger
}

func NewService(log logx.Logger, bus eventbus.Bus, senders ...Sender) *Service {
	return &Service{
		senders: senders,
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultRatePerSec),
		bus:     bus,
		log:     log,
	}
}

func (s *Service) Notify(ctx context.Context, m Message) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	for _, sender := range s.senders {
		err := sender.Send(ctx, m)
		now := time.Now()
		if err != nil {
			s.log.Warn("notification send failed",
				logx.String("channel", sender.Name()),
				logx.String("topic", m.Topic),
				logx.Err(err))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.EventNotifyFailed, Time: now,
					Data: Event{Channel: sender.Name(), Topic: m.Topic, At: now, Error: err.Error()}})
			}
			continue
		}
		s.log.Debug("notification sent",
			logx.String("channel", sender.Name()),
			logx.String("topic", m.Topic),
			logx.Int("priority", m.Priority))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.EventNotifySent, Time: now,
				Data: Event{Channel: sender.Name(), Topic: m.Topic, At: now}})
		}
	}
}
