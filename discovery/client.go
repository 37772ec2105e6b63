package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/registry"
	"github.com/kbukum/regd/resilience"
	"github.com/kbukum/regd/version"
)

// Registration is the payload of a register call.
type Registration struct {
	ServiceName   string
	InstanceID    string
	Host          string
	Port          int
	Status        registry.Status
	Metadata      map[string]string
	LeaseDuration time.Duration
}

// Snapshot is a full registry view as returned by /v1/snapshot.
type Snapshot struct {
	Version  uint64                         `json:"version"`
	Services map[string][]registry.Instance `json:"services"`
}

type server struct {
	base    string
	breaker *resilience.CircuitBreaker
}

// Client calls the registry HTTP API.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	servers []*server
	retry   resilience.RetryConfig
	log     *logger.Logger

	mu      sync.Mutex
	current int
}

// NewClient creates a client for cfg.Servers.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("discovery.client")

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		retry: cfg.retryConfig(),
		log:   log,
	}
	c.retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		log.Debug("retrying registry call", logger.Fields(
			"attempt", attempt,
			"error", err.Error(),
			"backoff", backoff.String(),
		))
	}
	for _, s := range cfg.Servers {
		base := strings.TrimRight(s, "/")
		c.servers = append(c.servers, &server{
			base: base,
			breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:        base,
				MaxFailures: cfg.BreakerFailures,
				Timeout:     cfg.BreakerTimeout,
				IsFailure:   isServerFailure,
				OnStateChange: func(name string, from, to resilience.State) {
					log.Warn("registry server circuit changed", logger.Fields(
						"server", name, "from", from.String(), "to", to.String(),
					))
				},
			}),
		})
	}
	return c, nil
}

// isServerFailure counts transport errors and 5xx answers against a server.
// Client errors such as NOT_FOUND say nothing about the server's health.
func isServerFailure(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Code == errors.ErrCodeConnectionFailed || appErr.HTTPStatus >= 500
	}
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

// pick returns the current server, skipping servers whose circuit is open.
// When every circuit is open the current server is returned anyway.
func (c *Client) pick() *server {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < len(c.servers); i++ {
		s := c.servers[(c.current+i)%len(c.servers)]
		if s.breaker.Allow() {
			return s
		}
	}
	return c.servers[c.current]
}

// failover moves off s after it failed.
func (c *Client) failover(s *server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.servers[c.current] == s {
		c.current = (c.current + 1) % len(c.servers)
	}
}

// do performs one API call with retry and failover. A nil out discards the
// response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	return resilience.RetryFunc(ctx, c.retry, func() error {
		s := c.pick()
		err := s.breaker.Execute(func() error {
			return c.roundTrip(ctx, s.base, method, path, query, payload, out)
		})
		if stderrors.Is(err, resilience.ErrCircuitOpen) {
			err = errors.TransientUnavailable(s.base)
		}
		if isServerFailure(err) {
			c.failover(s)
		}
		return err
	})
}

func (c *Client) roundTrip(ctx context.Context, base, method, path string, query url.Values, payload []byte, out any) error {
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.ConnectionFailed(base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Decode(resp.StatusCode, resp.Body)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Register registers or replaces an instance.
func (c *Client) Register(ctx context.Context, r Registration) error {
	body := map[string]any{
		"serviceName": r.ServiceName,
		"instance": map[string]any{
			"instanceId": r.InstanceID,
			"host":       r.Host,
			"port":       r.Port,
			"status":     r.Status,
			"metadata":   r.Metadata,
		},
		"leaseDuration": int64(r.LeaseDuration / time.Second),
	}
	return c.do(ctx, http.MethodPost, "/v1/register", nil, body, nil)
}

// Renew heartbeats an instance. An unknown instance returns an error with
// code NOT_FOUND; callers re-register.
func (c *Client) Renew(ctx context.Context, serviceName, instanceID string) error {
	return c.do(ctx, http.MethodPut, "/v1/renew", nil, ref(serviceName, instanceID), nil)
}

// Cancel deregisters an instance. It reports whether the instance existed.
func (c *Client) Cancel(ctx context.Context, serviceName, instanceID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/cancel", nil, ref(serviceName, instanceID), &out)
	return out.Cancelled, err
}

// SetStatus changes an instance's status.
func (c *Client) SetStatus(ctx context.Context, serviceName, instanceID string, status registry.Status) error {
	body := map[string]any{"serviceName": serviceName, "instanceId": instanceID, "status": status}
	return c.do(ctx, http.MethodPut, "/v1/status", nil, body, nil)
}

// Instances lists a service's instances in every status.
func (c *Client) Instances(ctx context.Context, serviceName string) ([]registry.Instance, error) {
	var out struct {
		Instances []registry.Instance `json:"instances"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/instances", url.Values{"service": {serviceName}}, nil, &out)
	return out.Instances, err
}

// Instance fetches one instance.
func (c *Client) Instance(ctx context.Context, serviceName, instanceID string) (registry.Instance, error) {
	var out registry.Instance
	path := "/v1/instances/" + url.PathEscape(serviceName) + "/" + url.PathEscape(instanceID)
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

// Snapshot fetches the full registry.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/snapshot", nil, nil, &out)
	if out.Services == nil {
		out.Services = map[string][]registry.Instance{}
	}
	return out, err
}

// Delta fetches the changes after since. A cursor the server no longer
// retains returns an error with code STALE_CURSOR.
func (c *Client) Delta(ctx context.Context, since uint64) (registry.Delta, error) {
	var out registry.Delta
	q := url.Values{"since": {strconv.FormatUint(since, 10)}}
	err := c.do(ctx, http.MethodGet, "/v1/delta", q, nil, &out)
	return out, err
}

// Stats fetches the server's registry statistics.
func (c *Client) Stats(ctx context.Context) (registry.Stats, error) {
	var out registry.Stats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &out)
	return out, err
}

// Servers returns the configured base URLs.
func (c *Client) Servers() []string {
	out := make([]string, len(c.servers))
	for i, s := range c.servers {
		out[i] = s.base
	}
	return out
}

// ServerState is one registry server as seen by the client.
type ServerState struct {
	URL     string            `json:"url"`
	Circuit string            `json:"circuit"`
	Current bool              `json:"current"`
	Counts  resilience.Counts `json:"counts"`
}

// ServerStates reports each server's circuit, in configured order.
func (c *Client) ServerStates() []ServerState {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	out := make([]ServerState, len(c.servers))
	for i, s := range c.servers {
		out[i] = ServerState{
			URL:     s.base,
			Circuit: s.breaker.State().String(),
			Current: i == current,
			Counts:  s.breaker.Counts(),
		}
	}
	return out
}

func ref(serviceName, instanceID string) map[string]string {
	return map[string]string{"serviceName": serviceName, "instanceId": instanceID}
}
