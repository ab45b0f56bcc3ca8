package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/remote"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg, err := ParseConfig([]byte(`[server]
port = ":0"
[database]
dsn = ":memory:"
migrations_dir = "../../migrations"
`))
	require.NoError(t, err)
	cfg.Remote.Servers = []remote.ServerConfig{{Name: "main", URL: srv.URL, Org: "uni"}}

	s, err := NewServiceFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pooled(private bool) *bool { return &private }

func TestService_CreateTask(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("[]")) })
	ctx := context.Background()

	task := &models.Task{CourseID: 1, ServerRef: "main", RemoteCourse: "c", RemoteTask: "worksheet-1"}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, float64(models.DefaultPoints), task.Points)

	err := s.CreateTask(ctx, &models.Task{CourseID: 1, ServerRef: "other", RemoteCourse: "c", RemoteTask: "t"})
	assert.True(t, errors.Is(err, remote.ErrConfigurationMissing))

	err = s.CreateTask(ctx, &models.Task{CourseID: 1, ServerRef: "main"})
	assert.True(t, errors.Is(err, ErrInvalidTask))

	_, err = s.GetTask(ctx, 999)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	assert.True(t, errors.Is(s.DeleteTask(ctx, 999), ErrTaskNotFound))
}

func TestService_Gradebook(t *testing.T) {
	var calls int32
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[
			{"actor": {"account": {"name": "GSSO_uni_5"}}, "object": {"id": "worksheet-1"},
			 "result": {"score": {"raw": 0.8}}, "timestamp": "2023-11-14T22:13:19Z"},
			{"actor": {"account": {"name": "GSSO_uni_5"}}, "object": {"id": "worksheet-1"},
			 "result": {"score": {"raw": 0.5}}, "timestamp": "2023-11-14T22:15:00Z"}
		]`))
	})
	ctx := context.Background()

	task := &models.Task{
		CourseID: 1, ServerRef: "main", RemoteCourse: "c", RemoteTask: "worksheet-1",
		Duedate: 1700000000, IsGraded: true, PrivateGradePool: pooled(false),
	}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.Store.Enroll(ctx, 1, 5))

	grades, res, err := s.Gradebook(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, grades, 1)
	assert.InDelta(t, 80.0, grades[0].RawGrade, 1e-9)

	updated, err := s.SetGradePool(ctx, task.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsPrivatePool())
}

func TestService_GradebookRemoteDown(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	task := &models.Task{
		CourseID: 1, ServerRef: "main", RemoteCourse: "c", RemoteTask: "worksheet-1",
		IsGraded: true, PrivateGradePool: pooled(true),
	}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.Store.Enroll(ctx, 1, 5))

	grades, res, err := s.Gradebook(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, grades)
	assert.Equal(t, "remote_failed", string(res.Status))
}
