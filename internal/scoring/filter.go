// internal/scoring/filter.go
package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/metrics"
	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/syncid"
)

type UserResolver interface {
	UserID(ctx context.Context, syncID string, hashed bool, scope syncid.Scope) (int64, error)
}

type DuedateResolver interface {
	EffectiveDuedate(ctx context.Context, userID int64, task *models.Task) (int64, error)
}

type Filter struct {
	users    UserResolver
	duedates DuedateResolver
}

func NewFilter(users UserResolver, duedates DuedateResolver) *Filter {
	return &Filter{
		users:    users,
		duedates: duedates,
	}
}

// IsLate reports whether an attempt at timestamp misses duedate.
// A zero duedate never rejects.
func IsLate(duedate, timestamp int64) bool {
	return duedate > 0 && duedate < timestamp
}

// SelectLatestValid keeps, per user, the latest event that is not late
// against that user's effective duedate. Users without such an event are
// absent from the result. On equal timestamps the first event wins.
func (f *Filter) SelectLatestValid(ctx context.Context, events []models.GradeEvent, task *models.Task, scope syncid.Scope) (map[int64]models.GradeEvent, error) {
	winners := make(map[int64]models.GradeEvent)
	duedates := make(map[int64]int64)

	for _, event := range events {
		userID, err := f.users.UserID(ctx, event.SyncID, task.UseHashedID, scope)
		if errors.Is(err, syncid.ErrUnresolvable) {
			logger.Debug.Printf("Skipping grade event of unknown actor %s: %v", event.SyncID, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve actor %s: %w", event.SyncID, err)
		}

		duedate, ok := duedates[userID]
		if !ok {
			duedate, err = f.duedates.EffectiveDuedate(ctx, userID, task)
			if err != nil {
				return nil, err
			}
			duedates[userID] = duedate
		}

		if IsLate(duedate, event.Timestamp) {
			logger.Debug.Printf("Rejecting late grade event of user %d for task %d: %d > %d",
				userID, task.ID, event.Timestamp, duedate)
			metrics.LateEventsRejected.WithLabelValues(task.ServerRef).Inc()
			continue
		}

		if current, ok := winners[userID]; ok && event.Timestamp <= current.Timestamp {
			continue
		}
		winners[userID] = event
	}

	return winners, nil
}
