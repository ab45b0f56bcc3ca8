package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/duedate"
	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/reconcile"
	"github.com/shrimpsizemoose/tasksync/internal/remote"
	"github.com/shrimpsizemoose/tasksync/internal/store"
	redisstore "github.com/shrimpsizemoose/tasksync/internal/store/redis"
	"github.com/shrimpsizemoose/tasksync/internal/syncid"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidTask     = errors.New("invalid task")
	ErrInvalidOperator = errors.New("operator id header is missing or malformed")
)

type Service struct {
	Config     *Config
	Store      store.Store
	Auth       *Auth
	Duedates   *duedate.Resolver
	Identity   *syncid.Identity
	Remote     *remote.Registry
	Reconciler *reconcile.Reconciler

	redisClients []*redis.Client
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewServiceFromConfig(context.Background(), config)
}

func NewServiceFromConfig(ctx context.Context, config *Config) (*Service, error) {
	st, err := NewStore(store.DBConfig{
		DSN:           config.Database.DSN,
		MigrationsDir: config.Database.MigrationsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	s := &Service{
		Config:   config,
		Store:    st,
		Duedates: duedate.NewResolver(st),
		Remote:   remote.NewRegistry(config.Remote.Servers, config.Remote.WorksheetPrefix),
	}

	var syncIDs store.SyncIDStore = st
	if config.Identity.Backend == IdentityBackendRedis {
		client, err := redisstore.Connect(ctx, config.Identity.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init identity store: %w", err)
		}
		s.redisClients = append(s.redisClients, client)
		syncIDs = redisstore.NewSyncIDStore(client)
	}
	s.Identity = syncid.NewIdentity(syncIDs, config.Identity.Prefix)

	var locker reconcile.Locker = reconcile.NewLocalLocker()
	if config.Reconcile.Lock == LockRedis {
		client, err := redisstore.Connect(ctx, config.Reconcile.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init reconcile lock: %w", err)
		}
		s.redisClients = append(s.redisClients, client)
		locker = reconcile.NewRedisLocker(client, time.Duration(config.Reconcile.LockTTLSeconds)*time.Second)
	}

	s.Reconciler = reconcile.New(reconcile.Deps{
		Tasks:       st,
		Enrollments: st,
		Grades:      st,
		Duedates:    s.Duedates,
		Identities:  s.Identity,
		Fetcher:     s.Remote,
		Locker:      locker,
	})

	s.Auth, err = NewAuth(config)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}

	return s, nil
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

// ValidateOperator returns the operator id of the request, checking its
// bearer token when auth is enabled.
func (s *Service) ValidateOperator(r *http.Request) (int64, error) {
	raw := r.Header.Get(s.Config.API.OperatorIDHeader)
	operatorID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || operatorID <= 0 {
		return 0, ErrInvalidOperator
	}

	if !s.Config.Server.EnableAuth {
		return operatorID, nil
	}

	authHeader := r.Header.Get(s.Auth.tokenHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return 0, fmt.Errorf("%w: invalid authorization header format", ErrUnauthorized)
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	if err := s.Auth.ValidateToken(r.Context(), raw, token); err != nil {
		return 0, err
	}
	return operatorID, nil
}

func (s *Service) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// CreateTask refuses tasks pointing at servers that are not configured.
func (s *Service) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Points == 0 {
		task.Points = models.DefaultPoints
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if _, err := s.Remote.Org(task.ServerRef); err != nil {
		return err
	}
	if err := s.Store.CreateTask(ctx, task); err != nil {
		return err
	}
	logger.Info.Printf("Task %d created for course %d on %s (%s/%s)",
		task.ID, task.CourseID, task.ServerRef, task.RemoteCourse, task.RemoteTask)
	return nil
}

func (s *Service) DeleteTask(ctx context.Context, taskID int64) error {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.Store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	logger.Info.Printf("Task %d deleted together with its extensions and grades", taskID)
	return nil
}

func (s *Service) SetGradePool(ctx context.Context, taskID int64, private bool) (*models.Task, error) {
	if err := s.Store.SetGradePool(ctx, taskID, private); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// Gradebook is the page-view trigger: it reconciles the task first and
// serves whatever is stored even when that fails.
func (s *Service) Gradebook(ctx context.Context, taskID int64) ([]models.Grade, *reconcile.Result, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.Reconciler.Reconcile(ctx, task, reconcile.AllUsers)
	if err != nil {
		logger.Error.Printf("Reconciling task %d before showing grades failed: %v", taskID, err)
		res = nil
	}

	grades, err := s.Store.ListGrades(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return grades, res, nil
}

func (s *Service) Close() error {
	var errs []error

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if s.Auth != nil {
		if err := s.Auth.Close(); err != nil {
			errs = append(errs, fmt.Errorf("auth: %w", err))
		}
	}
	for _, c := range s.redisClients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
