package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/example/room-scheduler/internal/availability"
	"github.com/example/room-scheduler/internal/notify"
	"github.com/example/room-scheduler/internal/reservations"
)

// Store is the slice of the reservation repository the background jobs use.
type Store interface {
	ExpirePendingBefore(ctx context.Context, day string) (int, error)
	ListForReminder(ctx context.Context, day string) ([]reservations.Reservation, error)
}

// Enqueuer matches the notification queue's submit side.
type Enqueuer interface {
	Enqueue(spec notify.TaskSpec) string
}

// Scheduler runs the recurring maintenance jobs: expiring stale pending
// requests after their day has passed and sending same-day reminders for
// approved reservations.
type Scheduler struct {
	store Store
	queue Enqueuer
	loc   *time.Location
	log   zerolog.Logger
	cron  *cron.Cron

	now func() time.Time
}

func New(store Store, queue Enqueuer, loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store: store,
		queue: queue,
		loc:   loc,
		log:   log.With().Str("component", "scheduler").Logger(),
		now:   time.Now,
	}
}

// Start registers the cron entries and begins running them. Call Stop to
// shut down; Start returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.loc))

	// Just after midnight: cancel pending requests whose day has passed.
	if _, err := c.AddFunc("5 0 * * *", func() { s.expireStale(ctx) }); err != nil {
		return err
	}
	// Morning reminder sweep for today's approved reservations.
	if _, err := c.AddFunc("0 8 * * *", func() { s.sendReminders(ctx) }); err != nil {
		return err
	}

	s.cron = c
	c.Start()
	s.log.Info().Str("timezone", s.loc.String()).Msg("background jobs started")
	return nil
}

// Stop halts the cron loop and waits for any running job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) expireStale(ctx context.Context) {
	today := s.now().In(s.loc).Format(availability.DayLayout)
	n, err := s.store.ExpirePendingBefore(ctx, today)
	if err != nil {
		s.log.Error().Err(err).Msg("expire sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("cancelled stale pending requests")
	}
}

func (s *Scheduler) sendReminders(ctx context.Context) {
	today := s.now().In(s.loc).Format(availability.DayLayout)
	list, err := s.store.ListForReminder(ctx, today)
	if err != nil {
		s.log.Error().Err(err).Msg("reminder sweep failed")
		return
	}
	for _, res := range list {
		id := s.queue.Enqueue(notify.TaskSpec{
			Type:          notify.TypeReminder,
			Priority:      notify.PriorityLow,
			ReservationID: res.ID,
		})
		s.log.Debug().Str("reservation", res.ID).Str("task", id).Msg("reminder queued")
	}
	if len(list) > 0 {
		s.log.Info().Int("count", len(list)).Msg("reminders queued")
	}
}
