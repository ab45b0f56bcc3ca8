package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/metrics"
	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/remote"
	"github.com/shrimpsizemoose/tasksync/internal/syncid"
)

var (
	ErrInvalidOverride = errors.New("override does not match any grade event of the user")
	ErrPoolPending     = errors.New("grade pool decision is pending")
	ErrNotGraded       = errors.New("task is not graded")
)

const gradeEpsilon = 1e-6

// UserGradeEvents returns every attempt the remote service knows for the
// user, late ones included, oldest first.
func (r *Reconciler) UserGradeEvents(ctx context.Context, task *models.Task, userID int64) ([]models.GradeEvent, error) {
	if !task.IsGraded {
		return nil, ErrNotGraded
	}
	if task.PoolPending() {
		return nil, ErrPoolPending
	}
	org, err := r.fetcher.Org(task.ServerRef)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task.ID, err)
	}

	scope := syncid.ScopeFor(org, task)
	queries, err := r.userQueries(ctx, task, []int64{userID}, scope)
	if err != nil {
		return nil, err
	}

	events, err := r.fetcher.Fetch(ctx, task, remote.Query{
		Users:      queries,
		ObjectIDs:  []string{task.RemoteTask},
		IncludeAll: true,
	})
	if err != nil {
		return nil, err
	}

	own := make([]models.GradeEvent, 0, len(events))
	for _, e := range events {
		if e.SyncID == queries[0].SyncID {
			own = append(own, e)
		}
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Timestamp < own[j].Timestamp })
	return own, nil
}

// Override replaces the user's grade with one of their actual attempts. The
// (rawgrade, timestamp) pair must match a known event exactly.
func (r *Reconciler) Override(ctx context.Context, task *models.Task, userID int64, o models.GradeOverride, operatorID int64) (*models.Grade, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if operatorID <= 0 {
		return nil, fmt.Errorf("%w: operator is required", ErrInvalidOverride)
	}

	events, err := r.UserGradeEvents(ctx, task, userID)
	if err != nil {
		return nil, err
	}

	matched := false
	for _, e := range events {
		if e.Timestamp == o.Timestamp && math.Abs(e.Raw*task.Points-o.RawGrade) < gradeEpsilon {
			matched = true
			break
		}
	}
	if !matched {
		logger.Info.Printf("Rejected override of user %d task %d by %d: %.2f@%d is not a known attempt",
			userID, task.ID, operatorID, o.RawGrade, o.Timestamp)
		return nil, ErrInvalidOverride
	}

	unlock, err := r.locker.Lock(ctx, lockKey(task.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %d: %w", task.ID, err)
	}
	defer unlock()

	grade := &models.Grade{
		TaskID:       task.ID,
		UserID:       userID,
		RawGrade:     o.RawGrade,
		TimeCreated:  o.Timestamp,
		OverriddenBy: operatorID,
		TimeModified: r.now().Unix(),
	}
	if err := r.grades.OverrideGrade(ctx, grade); err != nil {
		return nil, err
	}
	metrics.GradeWrites.WithLabelValues("override").Inc()
	logger.Info.Printf("Grade of user %d task %d overridden by %d: %.2f@%d",
		userID, task.ID, operatorID, o.RawGrade, o.Timestamp)
	return grade, nil
}
