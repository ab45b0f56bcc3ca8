// Package reconcile pulls grades from remote grading services into the
// local gradebook.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/metrics"
	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/remote"
	"github.com/shrimpsizemoose/tasksync/internal/scoring"
	"github.com/shrimpsizemoose/tasksync/internal/store"
	"github.com/shrimpsizemoose/tasksync/internal/syncid"
)

// AllUsers reconciles every enrolled user of the task's course.
const AllUsers int64 = 0

type Status string

const (
	StatusSynced       Status = "synced"
	StatusNotGraded    Status = "not_graded"
	StatusPendingPool  Status = "pending_pool"
	StatusRemoteFailed Status = "remote_failed"
)

type Result struct {
	TaskID   int64  `json:"task_id"`
	Status   Status `json:"status"`
	Users    int    `json:"users"`
	Events   int    `json:"events"`
	Selected int    `json:"selected"`
	Written  int    `json:"written"`
}

type GradeFetcher interface {
	Org(serverRef string) (string, error)
	Fetch(ctx context.Context, task *models.Task, q remote.Query) ([]models.GradeEvent, error)
}

type Identities interface {
	scoring.UserResolver
	SyncID(ctx context.Context, userID int64, hashed bool, scope syncid.Scope) (string, error)
}

type Deps struct {
	Tasks       store.TaskStore
	Enrollments store.EnrollmentStore
	Grades      store.GradeStore
	Duedates    scoring.DuedateResolver
	Identities  Identities
	Fetcher     GradeFetcher
	Locker      Locker
	Now         func() time.Time
}

type Reconciler struct {
	tasks       store.TaskStore
	enrollments store.EnrollmentStore
	grades      store.GradeStore
	duedates    scoring.DuedateResolver
	identities  Identities
	fetcher     GradeFetcher
	filter      *scoring.Filter
	locker      Locker
	now         func() time.Time
}

func New(deps Deps) *Reconciler {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Reconciler{
		tasks:       deps.Tasks,
		enrollments: deps.Enrollments,
		grades:      deps.Grades,
		duedates:    deps.Duedates,
		identities:  deps.Identities,
		fetcher:     deps.Fetcher,
		filter:      scoring.NewFilter(deps.Identities, deps.Duedates),
		locker:      deps.Locker,
		now:         deps.Now,
	}
}

func lockKey(taskID int64) string {
	return fmt.Sprintf("task:%d", taskID)
}

// Reconcile brings the gradebook of task up to date for one user, or for all
// enrolled users when userID is AllUsers. Remote failures are logged and
// reported through Result.Status, never as an error. Errors are returned for
// missing server configuration, store failures and cancellation.
func (r *Reconciler) Reconcile(ctx context.Context, task *models.Task, userID int64) (*Result, error) {
	res := &Result{TaskID: task.ID}

	if !task.IsGraded {
		res.Status = StatusNotGraded
		return res, nil
	}
	if task.PoolPending() {
		logger.Debug.Printf("Task %d waits for a grade pool decision, not syncing", task.ID)
		res.Status = StatusPendingPool
		metrics.ReconciliationsTotal.WithLabelValues(task.ServerRef, string(res.Status)).Inc()
		return res, nil
	}

	org, err := r.fetcher.Org(task.ServerRef)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task.ID, err)
	}

	unlock, err := r.locker.Lock(ctx, lockKey(task.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %d: %w", task.ID, err)
	}
	defer unlock()

	users := []int64{userID}
	if userID == AllUsers {
		users, err = r.enrollments.ListEnrolledUsers(ctx, task.CourseID)
		if err != nil {
			return nil, err
		}
	}
	res.Users = len(users)
	if len(users) == 0 {
		res.Status = StatusSynced
		return res, nil
	}

	scope := syncid.ScopeFor(org, task)
	queries, err := r.userQueries(ctx, task, users, scope)
	if err != nil {
		return nil, err
	}

	// the watermark must not pass the moment the server built its answer
	syncStart := r.now().Unix()
	events, err := r.fetcher.Fetch(ctx, task, remote.Query{
		Users:      queries,
		ObjectIDs:  []string{task.RemoteTask},
		LastSync:   task.LastSync,
		IncludeAll: true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Info.Printf("Fetching grades of task %d from %s failed, treating as no grades: %v",
			task.ID, task.ServerRef, err)
		res.Status = StatusRemoteFailed
		metrics.ReconciliationsTotal.WithLabelValues(task.ServerRef, string(res.Status)).Inc()
		return res, nil
	}
	res.Events = len(events)

	winners, err := r.filter.SelectLatestValid(ctx, events, task, scope)
	if err != nil {
		return nil, err
	}

	deadlines := make(map[int64]int64, len(users))
	for i, u := range users {
		deadlines[u] = queries[i].Deadline
	}
	selected := make([]int64, 0, len(winners))
	for uid := range winners {
		if _, ok := deadlines[uid]; ok {
			selected = append(selected, uid)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })
	res.Selected = len(selected)

	now := r.now().Unix()
	for _, uid := range selected {
		// each user is its own commit, stopping midway leaves consistent rows
		if err := ctx.Err(); err != nil {
			return res, err
		}
		written, err := r.apply(ctx, task, uid, winners[uid], deadlines[uid], now)
		if err != nil {
			return res, err
		}
		if written {
			res.Written++
		}
	}

	if userID == AllUsers {
		if err := r.tasks.UpdateLastSync(ctx, task.ID, syncStart); err != nil {
			return res, err
		}
		task.LastSync = syncStart
	}

	res.Status = StatusSynced
	metrics.ReconciliationsTotal.WithLabelValues(task.ServerRef, string(res.Status)).Inc()
	logger.Debug.Printf("Task %d reconciled: %d users, %d events, %d selected, %d written",
		task.ID, res.Users, res.Events, res.Selected, res.Written)
	return res, nil
}

func (r *Reconciler) userQueries(ctx context.Context, task *models.Task, users []int64, scope syncid.Scope) ([]remote.UserQuery, error) {
	queries := make([]remote.UserQuery, 0, len(users))
	for _, uid := range users {
		sid, err := r.identities.SyncID(ctx, uid, task.UseHashedID, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to build sync id for user %d: %w", uid, err)
		}
		deadline, err := r.duedates.EffectiveDuedate(ctx, uid, task)
		if err != nil {
			return nil, err
		}
		queries = append(queries, remote.UserQuery{SyncID: sid, Deadline: deadline})
	}
	return queries, nil
}

// apply writes the winning event unless the gradebook already holds a manual
// override, or the same or a newer attempt that is still on time. A stored
// attempt made late by a shortened deadline gives way to the winner.
func (r *Reconciler) apply(ctx context.Context, task *models.Task, userID int64, event models.GradeEvent, deadline, now int64) (bool, error) {
	existing, err := r.grades.GetGrade(ctx, task.ID, userID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Overridden() {
			return false, nil
		}
		nowLate := scoring.IsLate(deadline, existing.TimeCreated)
		if existing.TimeCreated >= event.Timestamp && !nowLate {
			return false, nil
		}
	}

	grade := &models.Grade{
		TaskID:       task.ID,
		UserID:       userID,
		RawGrade:     event.Raw * task.Points,
		TimeCreated:  event.Timestamp,
		TimeModified: now,
	}
	if err := r.grades.UpsertGrade(ctx, grade); err != nil {
		return false, err
	}
	metrics.GradeWrites.WithLabelValues("sync").Inc()
	metrics.GradeHistogram.WithLabelValues(task.ServerRef).Observe(event.Raw)
	return true, nil
}

// ReconcileCourse reconciles every task of a course, logging and skipping
// tasks that fail.
func (r *Reconciler) ReconcileCourse(ctx context.Context, courseID int64) ([]*Result, error) {
	tasks, err := r.tasks.ListCourseTasks(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return r.reconcileTasks(ctx, tasks)
}

// ReconcileAll is the scheduled counterpart of page-view triggered syncs.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Result, error) {
	tasks, err := r.tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return r.reconcileTasks(ctx, tasks)
}

func (r *Reconciler) reconcileTasks(ctx context.Context, tasks []models.Task) ([]*Result, error) {
	results := make([]*Result, 0, len(tasks))
	for i := range tasks {
		res, err := r.Reconcile(ctx, &tasks[i], AllUsers)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return results, err
			}
			logger.Error.Printf("Reconciling task %d failed: %v", tasks[i].ID, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// Reset drops all gradebook rows of the task and rewinds its watermark so
// the next pass asks for the whole history.
func (r *Reconciler) Reset(ctx context.Context, task *models.Task) error {
	unlock, err := r.locker.Lock(ctx, lockKey(task.ID))
	if err != nil {
		return fmt.Errorf("failed to lock task %d: %w", task.ID, err)
	}
	defer unlock()

	if err := r.grades.ResetGrades(ctx, task.ID); err != nil {
		return err
	}
	if err := r.tasks.UpdateLastSync(ctx, task.ID, 0); err != nil {
		return err
	}
	task.LastSync = 0
	logger.Info.Printf("Gradebook of task %d reset", task.ID)
	return nil
}
