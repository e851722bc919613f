// Package notify implements the in-process notification delivery queue:
// priority-ordered, bounded-concurrency, at-most-N-attempts with exponential
// backoff. Pending and in-flight state live only in memory; a restart drops
// them. The reservation record in storage stays authoritative regardless of
// delivery outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/room-scheduler/internal/metrics"
)

type Config struct {
	// MaxConcurrency caps simultaneously in-flight deliveries.
	MaxConcurrency int
	// MaxAttempts bounds delivery attempts per task before it is dropped.
	MaxAttempts int
	// BaseDelay seeds the backoff: delay(n) = BaseDelay * 2^(n-1).
	BaseDelay time.Duration
	// RecheckDelay is how long to wait before re-scanning a queue that is
	// blocked on a full in-flight set.
	RecheckDelay time.Duration
	// AdminEmail receives admin_notification tasks.
	AdminEmail string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.RecheckDelay <= 0 {
		c.RecheckDelay = time.Second
	}
	return c
}

// Queue delivers reservation notifications best-effort. Construct one per
// process and hand it to callers explicitly; there is no package-level
// instance.
//
// Invariant: a task is in pending or in inflight, never both.
type Queue struct {
	cfg      Config
	log      zerolog.Logger
	mailer   Mailer
	source   ReservationSource
	settings SettingsSource
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	pending  []*Task
	inflight map[string]struct{}
	timer    *time.Timer
	timerAt  time.Time
	closed   bool

	wg sync.WaitGroup
}

type QueueOption func(*Queue)

// WithClock pins the queue's clock; tests use it to make backoff stamps
// deterministic.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func WithMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

func NewQueue(cfg Config, log zerolog.Logger, mailer Mailer, source ReservationSource, settings SettingsSource, opts ...QueueOption) *Queue {
	q := &Queue{
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "notify").Logger(),
		mailer:   mailer,
		source:   source,
		settings: settings,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics != nil {
		q.metrics.RegisterQueueDepth(
			func() int { return q.Stats().Pending },
			func() int { return q.Stats().InFlight },
		)
	}
	return q
}

// Enqueue submits a task and returns its ID immediately. Delivery happens
// asynchronously; callers get no per-task completion signal. Outcomes are
// observable only through Stats, logs and metrics.
func (q *Queue) Enqueue(spec TaskSpec) string {
	t := &Task{
		ID:            uuid.NewString(),
		Type:          spec.Type,
		Priority:      spec.Priority,
		ReservationID: spec.ReservationID,
		Recipient:     spec.Recipient,
		MaxAttempts:   q.cfg.MaxAttempts,
		CreatedAt:     q.now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Warn().Str("type", string(t.Type)).Msg("enqueue after close; task discarded")
		return t.ID
	}
	q.insertLocked(t)
	q.mu.Unlock()

	q.log.Debug().
		Str("task", t.ID).
		Str("type", string(t.Type)).
		Str("priority", t.Priority.String()).
		Str("reservation", t.ReservationID).
		Msg("task enqueued")

	go q.drain()
	return t.ID
}

// Stats reports queue depth. Eventually both counts return to zero: every
// task either succeeds or runs out of attempts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), InFlight: len(q.inflight)}
}

// Close stops accepting work and waits for in-flight deliveries to finish
// (they are never cancelled mid-send). Pending tasks are dropped, which is
// the documented restart semantics.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	if dropped > 0 {
		q.log.Info().Int("dropped", dropped).Msg("pending notifications dropped on shutdown")
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// insertLocked places t before the first pending task of strictly lower
// priority, so bands stay ordered and arrival order holds within a band.
func (q *Queue) insertLocked(t *Task) {
	at := len(q.pending)
	for i, p := range q.pending {
		if p.Priority < t.Priority {
			at = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[at+1:], q.pending[at:])
	q.pending[at] = t
}

// drain dispatches ready tasks until the in-flight set is full or the queue
// is empty. It never blocks on delivery.
func (q *Queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	now := q.now()
	for len(q.inflight) < q.cfg.MaxConcurrency && len(q.pending) > 0 {
		t := q.pending[0]
		if t.ScheduledAt.After(now) {
			// A delayed retry sits at the head; rotate it to the tail and
			// come back instead of spinning on it. When other tasks are
			// waiting behind it, re-check sooner so they are not held up
			// for the whole retry delay.
			q.pending = append(q.pending[1:], t)
			d := t.ScheduledAt.Sub(now)
			if len(q.pending) > 1 && d > q.cfg.RecheckDelay {
				d = q.cfg.RecheckDelay
			}
			q.recheckLocked(d)
			return
		}
		q.pending = q.pending[1:]
		q.inflight[t.ID] = struct{}{}
		q.wg.Add(1)
		go q.process(t)
	}

	if len(q.pending) > 0 {
		q.recheckLocked(q.cfg.RecheckDelay)
	}
}

// recheckLocked arms a single re-drain timer. An already-armed timer is
// pulled in when an earlier deadline shows up, never pushed out.
func (q *Queue) recheckLocked(d time.Duration) {
	if q.closed {
		return
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	at := q.now().Add(d)
	if q.timer != nil {
		if !at.Before(q.timerAt) {
			return
		}
		q.timer.Stop()
	}
	q.timerAt = at
	q.timer = time.AfterFunc(d, func() {
		q.mu.Lock()
		q.timer = nil
		q.mu.Unlock()
		q.drain()
	})
}

func isPermanent(err error) bool {
	var pe PermanentError
	return errors.As(err, &pe) && pe.Permanent()
}

func (q *Queue) process(t *Task) {
	defer q.wg.Done()

	err := q.deliver(context.Background(), t)

	q.mu.Lock()
	delete(q.inflight, t.ID)
	if err == nil {
		q.mu.Unlock()
		q.metrics.NotificationSent(string(t.Type))
		q.log.Debug().
			Str("task", t.ID).
			Str("type", string(t.Type)).
			Int("attempts", t.Attempts+1).
			Msg("notification delivered")
		q.drain()
		return
	}

	t.Attempts++
	if isPermanent(err) || t.Attempts >= t.MaxAttempts {
		q.mu.Unlock()
		q.metrics.NotificationDropped(string(t.Type))
		// Best-effort delivery: the reservation record in storage is still
		// correct, so this is an operational concern, not a user-facing one.
		q.log.Error().
			Err(err).
			Str("task", t.ID).
			Str("type", string(t.Type)).
			Str("reservation", t.ReservationID).
			Int("attempts", t.Attempts).
			Msg("notification dropped")
		q.drain()
		return
	}

	if q.closed {
		// Close already dropped the pending list; re-inserting would leave a
		// task behind after shutdown reported the queue drained.
		q.mu.Unlock()
		q.metrics.NotificationDropped(string(t.Type))
		q.log.Warn().
			Err(err).
			Str("task", t.ID).
			Str("type", string(t.Type)).
			Msg("queue closed; failed task dropped instead of retried")
		return
	}

	delay := q.cfg.BaseDelay << (t.Attempts - 1)
	t.ScheduledAt = q.now().Add(delay)
	q.insertLocked(t)
	q.recheckLocked(delay)
	q.mu.Unlock()

	q.metrics.NotificationRetried(string(t.Type))
	q.log.Warn().
		Err(err).
		Str("task", t.ID).
		Str("type", string(t.Type)).
		Int("attempt", t.Attempts).
		Dur("retry_in", delay).
		Msg("notification delivery failed; retry scheduled")

	q.drain()
}

// deliver runs one attempt end to end. A panic in a formatter or collaborator
// is contained here so it can never take down the drain loop or other tasks.
func (q *Queue) deliver(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: panic delivering task %s: %v", t.ID, r)
		}
	}()

	settings, err := q.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}

	res, err := q.source.Reservation(ctx, t.ReservationID)
	if err != nil {
		return fmt.Errorf("fetch reservation %s: %w", t.ReservationID, err)
	}

	msg, ok := buildMessage(t, res, q.cfg.AdminEmail, settings)
	if !ok {
		// Gated off by settings or missing recipient; nothing to send.
		return nil
	}
	if err := q.mailer.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		return fmt.Errorf("send %s to %s: %w", t.Type, msg.To, err)
	}
	return nil
}
