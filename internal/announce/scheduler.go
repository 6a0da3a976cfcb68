package announce

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tg_gatekeeper_bot/internal/domain"
	"tg_gatekeeper_bot/internal/logging"
)

// cycleTimeout bounds the feed fetch of a single cycle; blowing it fails the
// cycle, not the process.
const cycleTimeout = 30 * time.Second

// EventSource supplies the upcoming events for a cycle.
type EventSource interface {
	Upcoming(ctx context.Context, now time.Time) ([]domain.Event, error)
}

// Sender delivers one announcement to the main chat.
type Sender interface {
	Announce(ctx context.Context, text string) error
}

// Scheduler wakes at every hour boundary, refetches the feed, and sends at
// most one announcement per cycle.
type Scheduler struct {
	events EventSource
	sender Sender
	logger *logrus.Entry

	// now is overridable in tests.
	now func() time.Time
}

// NewScheduler constructs a Scheduler over the given source and sender.
func NewScheduler(events EventSource, sender Sender, logger *logrus.Entry) *Scheduler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Scheduler{
		events: events,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// Run loops until the context is canceled, returning the context's error.
// Upstream failures are confined to the cycle they occur in.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.events == nil || s.sender == nil {
		return errors.New("scheduler is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.WithField("event", "scheduler_started").Info("announcement scheduler running")

	timer := time.NewTimer(untilNextHour(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("event", "scheduler_stopped").Info("announcement scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		s.cycle(ctx)
		timer.Reset(untilNextHour(s.now()))
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	now := s.now()

	fetchCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
	events, err := s.events.Upcoming(fetchCtx, now)
	cancel()
	if err != nil {
		s.logger.WithField("event", "announce_cycle_failed").WithError(err).Warn("skipping announcement cycle")
		return
	}

	kind := Select(now, events)
	if kind == None {
		return
	}

	if err := s.sender.Announce(ctx, Message(kind, events[0])); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "announce_send_failed",
			"kind":  kind.String(),
		}).WithError(err).Warn("failed to send announcement")
		return
	}

	s.logger.WithFields(logging.Fields{
		"event": "announced",
		"kind":  kind.String(),
	}).Info("sent announcement")
}

// untilNextHour returns the wait from t to the next top of the hour; exactly
// on a boundary it returns a full hour.
func untilNextHour(t time.Time) time.Duration {
	return floorHour(t).Add(time.Hour).Sub(t)
}
