// Package remote talks to the external grading service that hosts tasks.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/metrics"
	"github.com/shrimpsizemoose/tasksync/internal/models"
)

var (
	ErrRemoteUnavailable    = errors.New("remote grading service unavailable")
	ErrMalformedResponse    = errors.New("malformed response from remote grading service")
	ErrConfigurationMissing = errors.New("no remote server configured")
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodySize    = 32 << 20
	apiKeyHeader   = "X-API-Key"
)

type ServerConfig struct {
	Name           string `toml:"name"`
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Org            string `toml:"org"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type Client struct {
	server          ServerConfig
	http            *http.Client
	worksheetPrefix string
}

func NewClient(server ServerConfig, worksheetPrefix string) *Client {
	timeout := DefaultTimeout
	if server.TimeoutSeconds > 0 {
		timeout = time.Duration(server.TimeoutSeconds) * time.Second
	}
	if worksheetPrefix == "" {
		worksheetPrefix = DefaultWorksheetPrefix
	}
	return &Client{
		server:          server,
		http:            &http.Client{Timeout: timeout},
		worksheetPrefix: worksheetPrefix,
	}
}

func (c *Client) Org() string {
	return c.server.Org
}

// Fetch asks the remote service for graded attempts. An error envelope in the
// response yields no events and no error; transport and decoding problems
// come back as ErrRemoteUnavailable or ErrMalformedResponse.
func (c *Client) Fetch(ctx context.Context, task *models.Task, q Query) ([]models.GradeEvent, error) {
	body, err := json.Marshal(buildPayload(task, q, c.worksheetPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.server.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(c.server.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteFetchFailures.WithLabelValues(c.server.Name, "transport").Inc()
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		metrics.RemoteFetchFailures.WithLabelValues(c.server.Name, "transport").Inc()
		return nil, fmt.Errorf("%w: reading body: %v", ErrRemoteUnavailable, err)
	}
	events, soft, decodeErr := decodeResponse(data)
	if soft {
		metrics.RemoteFetchFailures.WithLabelValues(c.server.Name, "status").Inc()
		logger.Info.Printf("Remote %s answered task %d with an error status, treating as no grades: %s",
			c.server.Name, task.ID, truncate(data, 200))
		return []models.GradeEvent{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RemoteFetchFailures.WithLabelValues(c.server.Name, "http_status").Inc()
		return nil, fmt.Errorf("%w: http status %d", ErrRemoteUnavailable, resp.StatusCode)
	}
	if decodeErr != nil {
		metrics.RemoteFetchFailures.WithLabelValues(c.server.Name, "malformed").Inc()
		return nil, decodeErr
	}

	logger.Debug.Printf("Remote %s returned %d grade events for task %d", c.server.Name, len(events), task.ID)
	return events, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
