package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	ListCourseTasks(ctx context.Context, courseID int64) ([]models.Task, error)
	UpdateLastSync(ctx context.Context, taskID, lastSync int64) error
	SetGradePool(ctx context.Context, taskID int64, private bool) error
	DeleteTask(ctx context.Context, taskID int64) error
}

type ExtensionStore interface {
	GetExtension(ctx context.Context, userID, taskID int64) (*models.DuedateExtension, error)
	UpsertExtension(ctx context.Context, ext *models.DuedateExtension) error
	DeleteExtension(ctx context.Context, id int64) error
	DeleteTaskExtensions(ctx context.Context, taskID int64) error
	ListTaskExtensions(ctx context.Context, taskID int64) ([]models.DuedateExtension, error)
}

// SyncIDStore keeps the append-only user <-> hash mapping.
type SyncIDStore interface {
	FindSyncHash(ctx context.Context, userID int64, org, pool string) (string, error)
	// InsertSyncHash is a no-op when the user already has a hash in that scope.
	InsertSyncHash(ctx context.Context, mapping *models.SyncIDMapping) error
	FindSyncHashOwner(ctx context.Context, hash string) (*models.SyncIDMapping, error)
}

// GradeStore is the gradebook sink.
type GradeStore interface {
	GetGrade(ctx context.Context, taskID, userID int64) (*models.Grade, error)
	// UpsertGrade never touches a row that carries a manual override.
	UpsertGrade(ctx context.Context, grade *models.Grade) error
	OverrideGrade(ctx context.Context, grade *models.Grade) error
	ResetGrades(ctx context.Context, taskID int64) error
	ListGrades(ctx context.Context, taskID int64) ([]models.Grade, error)
}

type EnrollmentStore interface {
	Enroll(ctx context.Context, courseID, userID int64) error
	ListEnrolledUsers(ctx context.Context, courseID int64) ([]int64, error)
}

type Store interface {
	Close() error
	ApplyMigrations(dir string) error

	TaskStore
	ExtensionStore
	SyncIDStore
	GradeStore
	EnrollmentStore
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory in lexical order,
// translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		logger.Debug.Printf("Applying migration: %s", name)
		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}

	return nil
}

const taskColumns = `id, course_id, server_ref, remote_course, remote_task, duedate,
	is_graded, points, private_grade_pool, use_hashed_id, last_sync, language`

func (s *BaseStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Points == 0 {
		task.Points = models.DefaultPoints
	}
	query := s.Converter(`
		INSERT INTO tasks (course_id, server_ref, remote_course, remote_task, duedate,
			is_graded, points, private_grade_pool, use_hashed_id, last_sync, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := s.DB.QueryRowxContext(ctx, query,
		task.CourseID,
		task.ServerRef,
		task.RemoteCourse,
		task.RemoteTask,
		task.Duedate,
		task.IsGraded,
		task.Points,
		task.PrivateGradePool,
		task.UseHashedID,
		task.LastSync,
		task.Language,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *BaseStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task
	query := s.Converter(`SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`)
	err := s.DB.GetContext(ctx, &task, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return &task, nil
}

func (s *BaseStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := s.DB.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (s *BaseStore) ListCourseTasks(ctx context.Context, courseID int64) ([]models.Task, error) {
	var tasks []models.Task
	query := s.Converter(`SELECT ` + taskColumns + ` FROM tasks WHERE course_id = ? ORDER BY id`)
	err := s.DB.SelectContext(ctx, &tasks, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of course %d: %w", courseID, err)
	}
	return tasks, nil
}

func (s *BaseStore) UpdateLastSync(ctx context.Context, taskID, lastSync int64) error {
	query := s.Converter(`UPDATE tasks SET last_sync = ? WHERE id = ?`)
	if _, err := s.DB.ExecContext(ctx, query, lastSync, taskID); err != nil {
		return fmt.Errorf("failed to update last sync of task %d: %w", taskID, err)
	}
	return nil
}

func (s *BaseStore) SetGradePool(ctx context.Context, taskID int64, private bool) error {
	query := s.Converter(`UPDATE tasks SET private_grade_pool = ? WHERE id = ?`)
	if _, err := s.DB.ExecContext(ctx, query, private, taskID); err != nil {
		return fmt.Errorf("failed to set grade pool of task %d: %w", taskID, err)
	}
	return nil
}

func (s *BaseStore) DeleteTask(ctx context.Context, taskID int64) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM duedate_extensions WHERE task_id = ?`,
		`DELETE FROM grades WHERE task_id = ?`,
		`DELETE FROM tasks WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.Converter(q), taskID); err != nil {
			return fmt.Errorf("failed to delete task %d: %w", taskID, err)
		}
	}
	return tx.Commit()
}

func (s *BaseStore) GetExtension(ctx context.Context, userID, taskID int64) (*models.DuedateExtension, error) {
	var ext models.DuedateExtension
	query := s.Converter(`
		SELECT id, user_id, task_id, duedate
		FROM duedate_extensions
		WHERE user_id = ?
		AND task_id = ?
	`)
	err := s.DB.GetContext(ctx, &ext, query, userID, taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extension: %w", err)
	}
	return &ext, nil
}

func (s *BaseStore) UpsertExtension(ctx context.Context, ext *models.DuedateExtension) error {
	query := s.Converter(`
		INSERT INTO duedate_extensions (user_id, task_id, duedate)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, task_id) DO UPDATE SET
		duedate = excluded.duedate
		RETURNING id
	`)
	err := s.DB.QueryRowxContext(ctx, query, ext.UserID, ext.TaskID, ext.Duedate).Scan(&ext.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert extension: %w", err)
	}
	return nil
}

func (s *BaseStore) DeleteExtension(ctx context.Context, id int64) error {
	query := s.Converter(`DELETE FROM duedate_extensions WHERE id = ?`)
	if _, err := s.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete extension %d: %w", id, err)
	}
	return nil
}

func (s *BaseStore) DeleteTaskExtensions(ctx context.Context, taskID int64) error {
	query := s.Converter(`DELETE FROM duedate_extensions WHERE task_id = ?`)
	if _, err := s.DB.ExecContext(ctx, query, taskID); err != nil {
		return fmt.Errorf("failed to delete extensions of task %d: %w", taskID, err)
	}
	return nil
}

func (s *BaseStore) ListTaskExtensions(ctx context.Context, taskID int64) ([]models.DuedateExtension, error) {
	var exts []models.DuedateExtension
	query := s.Converter(`
		SELECT id, user_id, task_id, duedate
		FROM duedate_extensions
		WHERE task_id = ?
		ORDER BY user_id
	`)
	if err := s.DB.SelectContext(ctx, &exts, query, taskID); err != nil {
		return nil, fmt.Errorf("failed to list extensions: %w", err)
	}
	return exts, nil
}

func (s *BaseStore) FindSyncHash(ctx context.Context, userID int64, org, pool string) (string, error) {
	var hash string
	query := s.Converter(`
		SELECT hash FROM sync_id_hashes
		WHERE user_id = ? AND org = ? AND pool = ?
	`)
	err := s.DB.GetContext(ctx, &hash, query, userID, org, pool)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find sync hash: %w", err)
	}
	return hash, nil
}

func (s *BaseStore) InsertSyncHash(ctx context.Context, mapping *models.SyncIDMapping) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO sync_id_hashes (user_id, hash, org, pool)
		VALUES (:user_id, :hash, :org, :pool)
		ON CONFLICT (user_id, org, pool) DO NOTHING
	`, mapping)
	if err != nil {
		return fmt.Errorf("failed to insert sync hash: %w", err)
	}
	return nil
}

func (s *BaseStore) FindSyncHashOwner(ctx context.Context, hash string) (*models.SyncIDMapping, error) {
	var mapping models.SyncIDMapping
	query := s.Converter(`
		SELECT user_id, hash, org, pool FROM sync_id_hashes WHERE hash = ?
	`)
	err := s.DB.GetContext(ctx, &mapping, query, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sync hash owner: %w", err)
	}
	return &mapping, nil
}

func (s *BaseStore) GetGrade(ctx context.Context, taskID, userID int64) (*models.Grade, error) {
	var grade models.Grade
	query := s.Converter(`
		SELECT task_id, user_id, raw_grade, time_created, overridden_by, time_modified
		FROM grades
		WHERE task_id = ? AND user_id = ?
	`)
	err := s.DB.GetContext(ctx, &grade, query, taskID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grade: %w", err)
	}
	return &grade, nil
}

func (s *BaseStore) UpsertGrade(ctx context.Context, grade *models.Grade) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO grades (task_id, user_id, raw_grade, time_created, overridden_by, time_modified)
		VALUES (:task_id, :user_id, :raw_grade, :time_created, 0, :time_modified)
		ON CONFLICT (task_id, user_id) DO UPDATE SET
		raw_grade = excluded.raw_grade,
		time_created = excluded.time_created,
		time_modified = excluded.time_modified
		WHERE grades.overridden_by = 0
	`, grade)
	if err != nil {
		return fmt.Errorf("failed to upsert grade: %w", err)
	}
	return nil
}

func (s *BaseStore) OverrideGrade(ctx context.Context, grade *models.Grade) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO grades (task_id, user_id, raw_grade, time_created, overridden_by, time_modified)
		VALUES (:task_id, :user_id, :raw_grade, :time_created, :overridden_by, :time_modified)
		ON CONFLICT (task_id, user_id) DO UPDATE SET
		raw_grade = excluded.raw_grade,
		time_created = excluded.time_created,
		overridden_by = excluded.overridden_by,
		time_modified = excluded.time_modified
	`, grade)
	if err != nil {
		return fmt.Errorf("failed to override grade: %w", err)
	}
	return nil
}

func (s *BaseStore) ResetGrades(ctx context.Context, taskID int64) error {
	query := s.Converter(`DELETE FROM grades WHERE task_id = ?`)
	if _, err := s.DB.ExecContext(ctx, query, taskID); err != nil {
		return fmt.Errorf("failed to reset grades of task %d: %w", taskID, err)
	}
	return nil
}

func (s *BaseStore) ListGrades(ctx context.Context, taskID int64) ([]models.Grade, error) {
	var grades []models.Grade
	query := s.Converter(`
		SELECT task_id, user_id, raw_grade, time_created, overridden_by, time_modified
		FROM grades
		WHERE task_id = ?
		ORDER BY user_id
	`)
	if err := s.DB.SelectContext(ctx, &grades, query, taskID); err != nil {
		return nil, fmt.Errorf("failed to list grades: %w", err)
	}
	return grades, nil
}

func (s *BaseStore) Enroll(ctx context.Context, courseID, userID int64) error {
	query := s.Converter(`
		INSERT INTO enrollments (course_id, user_id) VALUES (?, ?)
		ON CONFLICT (course_id, user_id) DO NOTHING
	`)
	if _, err := s.DB.ExecContext(ctx, query, courseID, userID); err != nil {
		return fmt.Errorf("failed to enroll user %d: %w", userID, err)
	}
	return nil
}

func (s *BaseStore) ListEnrolledUsers(ctx context.Context, courseID int64) ([]int64, error) {
	var users []int64
	query := s.Converter(`
		SELECT user_id FROM enrollments WHERE course_id = ? ORDER BY user_id
	`)
	if err := s.DB.SelectContext(ctx, &users, query, courseID); err != nil {
		return nil, fmt.Errorf("failed to list enrolled users: %w", err)
	}
	return users, nil
}
