package remote

import (
	"context"
	"fmt"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

// Registry hands out the client for a task's server reference.
type Registry struct {
	clients map[string]*Client
}

func NewRegistry(servers []ServerConfig, worksheetPrefix string) *Registry {
	clients := make(map[string]*Client, len(servers))
	for _, s := range servers {
		clients[s.Name] = NewClient(s, worksheetPrefix)
	}
	return &Registry{clients: clients}
}

func (r *Registry) Client(serverRef string) (*Client, error) {
	c, ok := r.clients[serverRef]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigurationMissing, serverRef)
	}
	return c, nil
}

func (r *Registry) Org(serverRef string) (string, error) {
	c, err := r.Client(serverRef)
	if err != nil {
		return "", err
	}
	return c.Org(), nil
}

func (r *Registry) Fetch(ctx context.Context, task *models.Task, q Query) ([]models.GradeEvent, error) {
	c, err := r.Client(task.ServerRef)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, task, q)
}
