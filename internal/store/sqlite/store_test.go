// internal/store/sqlite/store_test.go
package sqlite

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

// setupTestDB creates an in-memory SQLite database with the real migrations
func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	s, err := NewSQLiteStore(":memory:", "../../../migrations")
	require.NoError(t, err, "Failed to create store")

	cleanup := func() {
		err := s.Close()
		require.NoError(t, err, "Failed to close database")
	}

	return s, cleanup
}

type testData struct {
	store *SQLiteStore
	ctx   context.Context
	task  *models.Task
	now   time.Time
}

func setupTestData(t *testing.T) (*testData, func()) {
	s, cleanup := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	shared := false
	task := &models.Task{
		CourseID:         101,
		ServerRef:        "main",
		RemoteCourse:     "algebra",
		RemoteTask:       "worksheet-7",
		Duedate:          time.Date(2024, 2, 1, 23, 59, 59, 0, time.UTC).Unix(),
		IsGraded:         true,
		PrivateGradePool: &shared,
	}
	require.NoError(t, s.CreateTask(ctx, task), "Failed to insert test data")

	return &testData{
		store: s,
		ctx:   ctx,
		task:  task,
		now:   now,
	}, cleanup
}

func TestMain(m *testing.M) {
	log.Println("Starting SQLite store tests...")
	code := m.Run()
	log.Println("Finished SQLite store tests")
	os.Exit(code)
}

func TestTaskOperations(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	t.Run("get task", func(t *testing.T) {
		got, err := td.store.GetTask(td.ctx, td.task.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, td.task.RemoteTask, got.RemoteTask)
		assert.Equal(t, float64(models.DefaultPoints), got.Points)
		require.NotNil(t, got.PrivateGradePool)
		assert.False(t, *got.PrivateGradePool)
	})

	t.Run("get non-existent task", func(t *testing.T) {
		got, err := td.store.GetTask(td.ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("pending pool survives roundtrip", func(t *testing.T) {
		pending := &models.Task{CourseID: 101, ServerRef: "main", RemoteCourse: "c", RemoteTask: "t"}
		require.NoError(t, td.store.CreateTask(td.ctx, pending))

		got, err := td.store.GetTask(td.ctx, pending.ID)
		require.NoError(t, err)
		assert.True(t, got.PoolPending())

		require.NoError(t, td.store.SetGradePool(td.ctx, pending.ID, true))
		got, err = td.store.GetTask(td.ctx, pending.ID)
		require.NoError(t, err)
		assert.True(t, got.IsPrivatePool())
	})

	t.Run("list course tasks", func(t *testing.T) {
		tasks, err := td.store.ListCourseTasks(td.ctx, 101)
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
	})

	t.Run("update last sync", func(t *testing.T) {
		require.NoError(t, td.store.UpdateLastSync(td.ctx, td.task.ID, td.now.Unix()))
		got, err := td.store.GetTask(td.ctx, td.task.ID)
		require.NoError(t, err)
		assert.Equal(t, td.now.Unix(), got.LastSync)
	})
}

func TestExtensionOperations(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	ext := &models.DuedateExtension{UserID: 7, TaskID: td.task.ID, Duedate: td.now.Unix()}

	t.Run("upsert keeps one row per user and task", func(t *testing.T) {
		require.NoError(t, td.store.UpsertExtension(td.ctx, ext))
		firstID := ext.ID
		assert.NotZero(t, firstID)

		again := &models.DuedateExtension{UserID: 7, TaskID: td.task.ID, Duedate: td.now.Add(time.Hour).Unix()}
		require.NoError(t, td.store.UpsertExtension(td.ctx, again))
		assert.Equal(t, firstID, again.ID)

		exts, err := td.store.ListTaskExtensions(td.ctx, td.task.ID)
		require.NoError(t, err)
		require.Len(t, exts, 1)
		assert.Equal(t, td.now.Add(time.Hour).Unix(), exts[0].Duedate)
	})

	t.Run("get missing extension", func(t *testing.T) {
		got, err := td.store.GetExtension(td.ctx, 8, td.task.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete task cascades", func(t *testing.T) {
		require.NoError(t, td.store.DeleteTask(td.ctx, td.task.ID))
		got, err := td.store.GetExtension(td.ctx, 7, td.task.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSyncHashOperations(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	mapping := &models.SyncIDMapping{UserID: 7, Hash: "abc", Org: "uni", Pool: ""}
	require.NoError(t, td.store.InsertSyncHash(td.ctx, mapping))

	t.Run("second insert for the same scope is ignored", func(t *testing.T) {
		dup := &models.SyncIDMapping{UserID: 7, Hash: "def", Org: "uni", Pool: ""}
		require.NoError(t, td.store.InsertSyncHash(td.ctx, dup))

		hash, err := td.store.FindSyncHash(td.ctx, 7, "uni", "")
		require.NoError(t, err)
		assert.Equal(t, "abc", hash)
	})

	t.Run("other pool gets its own row", func(t *testing.T) {
		private := &models.SyncIDMapping{UserID: 7, Hash: "abcp101", Org: "uni", Pool: "p101"}
		require.NoError(t, td.store.InsertSyncHash(td.ctx, private))

		owner, err := td.store.FindSyncHashOwner(td.ctx, "abcp101")
		require.NoError(t, err)
		require.NotNil(t, owner)
		assert.Equal(t, int64(7), owner.UserID)
		assert.Equal(t, "p101", owner.Pool)
	})

	t.Run("unknown hash", func(t *testing.T) {
		owner, err := td.store.FindSyncHashOwner(td.ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, owner)
	})
}

func TestGradeOperations(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	grade := &models.Grade{TaskID: td.task.ID, UserID: 7, RawGrade: 80, TimeCreated: 100, TimeModified: td.now.Unix()}

	t.Run("upsert and get", func(t *testing.T) {
		require.NoError(t, td.store.UpsertGrade(td.ctx, grade))
		got, err := td.store.GetGrade(td.ctx, td.task.ID, 7)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 80.0, got.RawGrade)
		assert.False(t, got.Overridden())
	})

	t.Run("override is not replaced by upsert", func(t *testing.T) {
		override := &models.Grade{TaskID: td.task.ID, UserID: 7, RawGrade: 87, TimeCreated: 90, OverriddenBy: 2, TimeModified: td.now.Unix()}
		require.NoError(t, td.store.OverrideGrade(td.ctx, override))

		later := &models.Grade{TaskID: td.task.ID, UserID: 7, RawGrade: 10, TimeCreated: 500, TimeModified: td.now.Unix()}
		require.NoError(t, td.store.UpsertGrade(td.ctx, later))

		got, err := td.store.GetGrade(td.ctx, td.task.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, 87.0, got.RawGrade)
		assert.Equal(t, int64(2), got.OverriddenBy)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, td.store.ResetGrades(td.ctx, td.task.ID))
		grades, err := td.store.ListGrades(td.ctx, td.task.ID)
		require.NoError(t, err)
		assert.Empty(t, grades)
	})
}

func TestEnrollments(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	for _, u := range []int64{3, 1, 2, 1} {
		require.NoError(t, td.store.Enroll(td.ctx, 101, u))
	}

	users, err := td.store.ListEnrolledUsers(td.ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, users)
}
