package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/room-scheduler/internal/availability"
	"github.com/example/room-scheduler/internal/notify"
)

var (
	ErrDayUnavailable    = errors.New("requested day is not bookable")
	ErrOutsideHours      = errors.New("requested slot is outside business hours")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence surface the service needs; *Repo satisfies it.
type Store interface {
	Create(ctx context.Context, res Reservation) (Reservation, error)
	Get(ctx context.Context, id string) (Reservation, error)
	SetStatus(ctx context.Context, id string, status Status) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]Reservation, error)
	DayCounts(ctx context.Context, fromDay, toDay string) (map[string]int, error)
}

// Enqueuer is the submit-and-forget side of the notification queue.
type Enqueuer interface {
	Enqueue(spec notify.TaskSpec) string
}

type ServiceConfig struct {
	DailyCapacity int
	LimitedAt     int
}

// Service enforces the reservation lifecycle and hands each state change to
// the notification queue. The queue is best effort; storage remains the
// authority on reservation state no matter what happens to the email.
type Service struct {
	store  Store
	engine *availability.Engine
	hours  availability.BusinessHours
	queue  Enqueuer
	cfg    ServiceConfig
	log    zerolog.Logger
}

func NewService(store Store, engine *availability.Engine, hours availability.BusinessHours, queue Enqueuer, cfg ServiceConfig, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		engine: engine,
		hours:  hours,
		queue:  queue,
		cfg:    cfg,
		log:    log.With().Str("component", "reservations").Logger(),
	}
}

// Today returns the current day key in the canonical booking timezone.
// Callers must not do their own date math; day keys shift near midnight
// when resolved in any other zone.
func (s *Service) Today() string { return s.engine.Today() }

// ShiftDay moves a day key by n days in the canonical timezone.
func (s *Service) ShiftDay(day string, n int) (string, error) {
	t, err := s.engine.ParseDay(day)
	if err != nil {
		return "", err
	}
	return s.engine.DayKey(t.AddDate(0, 0, n)), nil
}

// DaysBetween returns toDay minus fromDay in whole days, in the canonical
// timezone. Negative when toDay precedes fromDay.
func (s *Service) DaysBetween(fromDay, toDay string) (int, error) {
	f, err := s.engine.ParseDay(fromDay)
	if err != nil {
		return 0, err
	}
	t, err := s.engine.ParseDay(toDay)
	if err != nil {
		return 0, err
	}
	const day = 24 * time.Hour
	return int(t.Sub(f).Round(day) / day), nil
}

// Availability resolves the booking status for every day in the inclusive
// range, combining stored reservation counts with business hours.
func (s *Service) Availability(ctx context.Context, fromDay, toDay string) (map[string]availability.Status, error) {
	counts, err := s.store.DayCounts(ctx, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("day counts: %w", err)
	}
	snap := s.engine.BuildSnapshot(fromDay, toDay, counts, s.cfg.DailyCapacity, s.cfg.LimitedAt)

	out := make(map[string]availability.Status, len(snap))
	for day := range snap {
		out[day] = s.engine.DateAvailability(day, s.hours, snap)
	}
	return out, nil
}

// NextAvailable finds the earliest bookable date at or after fromDay.
func (s *Service) NextAvailable(ctx context.Context, fromDay, maxDay string) (string, bool, error) {
	toDay := maxDay
	if toDay == "" {
		// Bound the count query by the engine's scan cap.
		toDay = fromDay
		if d, err := s.engine.ParseDay(fromDay); err == nil {
			toDay = s.engine.DayKey(d.AddDate(0, 0, 90))
		}
	}
	counts, err := s.store.DayCounts(ctx, fromDay, toDay)
	if err != nil {
		return "", false, fmt.Errorf("day counts: %w", err)
	}
	snap := s.engine.BuildSnapshot(fromDay, toDay, counts, s.cfg.DailyCapacity, s.cfg.LimitedAt)
	day, ok := s.engine.EarliestAvailableDate(fromDay, maxDay, s.hours, snap)
	return day, ok, nil
}

// Request validates and stores a new reservation, then queues the requester
// confirmation and the admin alert.
func (s *Service) Request(ctx context.Context, res Reservation) (Reservation, error) {
	if err := s.checkSlot(res); err != nil {
		return Reservation{}, err
	}

	counts, err := s.store.DayCounts(ctx, res.Day, res.Day)
	if err != nil {
		return Reservation{}, fmt.Errorf("day counts: %w", err)
	}
	snap := s.engine.BuildSnapshot(res.Day, res.Day, counts, s.cfg.DailyCapacity, s.cfg.LimitedAt)
	if s.engine.DateAvailability(res.Day, s.hours, snap) == availability.StatusUnavailable {
		return Reservation{}, ErrDayUnavailable
	}

	created, err := s.store.Create(ctx, res)
	if err != nil {
		return Reservation{}, fmt.Errorf("create reservation: %w", err)
	}

	s.log.Info().
		Str("reservation", created.ID).
		Str("day", created.Day).
		Str("room", created.Room).
		Msg("reservation requested")

	s.queue.Enqueue(notify.TaskSpec{
		Type:          notify.TypeUserConfirmation,
		Priority:      notify.PriorityNormal,
		ReservationID: created.ID,
		Recipient:     created.Email,
	})
	s.queue.Enqueue(notify.TaskSpec{
		Type:          notify.TypeAdminNotification,
		Priority:      notify.PriorityHigh,
		ReservationID: created.ID,
	})
	return created, nil
}

func (s *Service) Approve(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusApproved, notify.TypeApproval, notify.PriorityHigh)
}

func (s *Service) Reject(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusRejected, notify.TypeRejection, notify.PriorityNormal)
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusCancelled, notify.TypeCancellation, notify.PriorityNormal)
}

func (s *Service) List(ctx context.Context, status Status, limit int) ([]Reservation, error) {
	return s.store.ListByStatus(ctx, status, limit)
}

func (s *Service) Get(ctx context.Context, id string) (Reservation, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) transition(ctx context.Context, id string, to Status, taskType notify.Type, prio notify.Priority) error {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canTransition(res.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, res.Status, to)
	}
	if err := s.store.SetStatus(ctx, id, to); err != nil {
		return err
	}

	s.log.Info().
		Str("reservation", id).
		Str("from", string(res.Status)).
		Str("to", string(to)).
		Msg("reservation status changed")

	s.queue.Enqueue(notify.TaskSpec{
		Type:          taskType,
		Priority:      prio,
		ReservationID: id,
		Recipient:     res.Email,
	})
	return nil
}

func canTransition(from, to Status) bool {
	switch to {
	case StatusApproved, StatusRejected:
		return from == StatusPending
	case StatusCancelled:
		return from == StatusPending || from == StatusApproved
	default:
		return false
	}
}

// checkSlot verifies the requested window sits inside the day's business
// hours. Day-level availability is checked separately.
func (s *Service) checkSlot(res Reservation) error {
	day, err := s.engine.ParseDay(res.Day)
	if err != nil {
		return fmt.Errorf("%w: bad day %q", ErrDayUnavailable, res.Day)
	}
	// Day keys are zero-padded, so string order is date order.
	if res.Day < s.engine.Today() {
		return fmt.Errorf("%w: day %s has passed", ErrDayUnavailable, res.Day)
	}
	sched, ok := s.hours[availability.WeekdayName(day)]
	if !ok || !sched.Enabled {
		return ErrDayUnavailable
	}

	open, okOpen := availability.ParseMinutes(sched.Slot.Start)
	closeAt, okClose := availability.ParseMinutes(sched.Slot.End)
	start, okStart := availability.ParseMinutes(res.StartTime)
	end, okEnd := availability.ParseMinutes(res.EndTime)
	if !okOpen || !okClose || !okStart || !okEnd {
		return ErrOutsideHours
	}
	if start >= end || start < open || end > closeAt {
		return ErrOutsideHours
	}
	return nil
}
