// Package reservations owns reservation records and their status lifecycle.
package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/room-scheduler/internal/db"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

type Reservation struct {
	ID        string
	Name      string
	Email     string
	Room      string
	Day       string // YYYY-MM-DD in the reporting timezone
	StartTime string // HH:MM
	EndTime   string // HH:MM
	Note      string
	Status    Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

const reservationCols = `id,name,email,room,day,start_time,end_time,note,status,created_at,updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Create(ctx context.Context, res Reservation) (Reservation, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Status = StatusPending
	err := r.db.QueryRow(ctx, `
INSERT INTO reservations(id,name,email,room,day,start_time,end_time,note,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING created_at, updated_at`,
		res.ID, res.Name, res.Email, res.Room, res.Day, res.StartTime, res.EndTime, res.Note, res.Status,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	return res, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Reservation, error) {
	var res Reservation
	err := r.db.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id=$1`, id).Scan(
		&res.ID, &res.Name, &res.Email, &res.Room, &res.Day, &res.StartTime, &res.EndTime,
		&res.Note, &res.Status, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	return res, nil
}

func (r *Repo) SetStatus(ctx context.Context, id string, status Status) error {
	var updated string
	err := r.db.QueryRow(ctx, `
UPDATE reservations SET status=$2, updated_at=now() WHERE id=$1 RETURNING id`, id, status).Scan(&updated)
	return db.WrapNotFound(err)
}

func (r *Repo) ListByStatus(ctx context.Context, status Status, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
SELECT `+reservationCols+` FROM reservations
WHERE status=$1
ORDER BY day, start_time
LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r *Repo) ListByDay(ctx context.Context, day string) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+reservationCols+` FROM reservations
WHERE day=$1 AND status IN ($2,$3)
ORDER BY start_time`, day, StatusPending, StatusApproved)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// DayCounts aggregates active (pending or approved) reservations per day
// across the inclusive day-key range. Days with no reservations are absent.
func (r *Repo) DayCounts(ctx context.Context, fromDay, toDay string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
SELECT day, COUNT(*) FROM reservations
WHERE day >= $1 AND day <= $2 AND status IN ($3,$4)
GROUP BY day`, fromDay, toDay, StatusPending, StatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	return counts, rows.Err()
}

// ExpirePendingBefore cancels pending requests whose day has already passed.
func (r *Repo) ExpirePendingBefore(ctx context.Context, day string) (int, error) {
	rows, err := r.db.Query(ctx, `
UPDATE reservations SET status=$2, updated_at=now()
WHERE status=$3 AND day < $1
RETURNING id`, day, StatusCancelled, StatusPending)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// ListForReminder returns the approved reservations for a given day.
func (r *Repo) ListForReminder(ctx context.Context, day string) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+reservationCols+` FROM reservations
WHERE day=$1 AND status=$2
ORDER BY start_time`, day, StatusApproved)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func scanReservations(rows db.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(
			&res.ID, &res.Name, &res.Email, &res.Room, &res.Day, &res.StartTime, &res.EndTime,
			&res.Note, &res.Status, &res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
