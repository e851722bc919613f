package reservations

import (
	"context"

	"github.com/example/room-scheduler/internal/notify"
)

// NotifySource adapts the reservation repo to the queue's read-only view.
// The queue re-fetches per delivery attempt so a task formatted after a
// status change sees current data.
type NotifySource struct {
	Repo *Repo
}

func (s NotifySource) Reservation(ctx context.Context, id string) (notify.Reservation, error) {
	res, err := s.Repo.Get(ctx, id)
	if err != nil {
		return notify.Reservation{}, err
	}
	return notify.Reservation{
		ID:        res.ID,
		Name:      res.Name,
		Email:     res.Email,
		Room:      res.Room,
		Day:       res.Day,
		StartTime: res.StartTime,
		EndTime:   res.EndTime,
		Status:    string(res.Status),
		Note:      res.Note,
	}, nil
}
