// Package remote is a JSON REST client for a single resource collection.
// Every call is a lazy reactive.Mono that runs on the client's scheduler and
// honours the subscriber's context.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/result"
)

const maxBodyBytes = 32 << 20

// Client talks to GET/POST/PUT/DELETE endpoints under BaseURL/Resource.
type Client[P any] struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	sched  *reactive.Scheduler
	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	http   *http.Client
	sched  *reactive.Scheduler
	logger zerolog.Logger
}

// WithHTTPClient replaces the default http.Client. Config.Timeout is then
// left to the caller's client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.http = c }
}

// WithScheduler bounds how many requests run at once.
func WithScheduler(s *reactive.Scheduler) Option {
	return func(o *clientOptions) { o.sched = s }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// New creates a Client for payload type P.
func New[P any](cfg Config, opts ...Option) (*Client[P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, &ConfigError{Field: "BaseURL", Message: err.Error()}
	}

	o := clientOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		o.http = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client[P]{
		cfg:    cfg,
		base:   base,
		http:   o.http,
		sched:  o.sched,
		logger: o.logger.With().Str("component", "remote").Str("resource", cfg.Resource).Logger(),
	}, nil
}

// GetAll fetches the whole collection.
func (c *Client[P]) GetAll() reactive.Mono[[]entity.Entity[P]] {
	return read(c.sched, c.retryPolicy(), reactive.FromFunc(func(ctx context.Context) ([]entity.Entity[P], error) {
		status, body, err := c.do(ctx, "remote.get_all", "", http.MethodGet, c.collectionURL(), nil)
		if err != nil {
			return nil, err
		}
		out := []entity.Entity[P]{}
		if len(bytes.TrimSpace(body)) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, decodeError("remote.get_all", "", status, err)
		}
		for i := range out {
			out[i].UpdatedAt = entity.NormalizeTime(out[i].UpdatedAt)
		}
		return out, nil
	}))
}

// Get fetches one entity. A successful response with an empty body completes
// without an item.
func (c *Client[P]) Get(id string) reactive.Mono[entity.Entity[P]] {
	return read(c.sched, c.retryPolicy(), reactive.New(func(ctx context.Context) (entity.Entity[P], bool, error) {
		status, body, err := c.do(ctx, "remote.get", id, http.MethodGet, c.itemURL(id), nil)
		if err != nil {
			return entity.Entity[P]{}, false, err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return entity.Entity[P]{}, false, nil
		}
		e, derr := decodeEntity[P](body)
		if derr != nil {
			return entity.Entity[P]{}, false, decodeError("remote.get", id, status, derr)
		}
		return e, true, nil
	}))
}

// Create POSTs e to the collection. An empty response body echoes e.
func (c *Client[P]) Create(e entity.Entity[P]) reactive.Mono[entity.Entity[P]] {
	return write(c.sched, c.retryPolicy(), c.cfg.RetryWrites, c.send("remote.create", http.MethodPost, c.collectionURL(), e))
}

// Update PUTs e to its item URL. An empty response body echoes e.
func (c *Client[P]) Update(e entity.Entity[P]) reactive.Mono[entity.Entity[P]] {
	return write(c.sched, c.retryPolicy(), c.cfg.RetryWrites, c.send("remote.update", http.MethodPut, c.itemURL(e.ID), e))
}

// Delete removes one entity. A 404 fails with KindNotFound.
func (c *Client[P]) Delete(id string) reactive.Mono[bool] {
	return write(c.sched, c.retryPolicy(), c.cfg.RetryWrites, reactive.FromFunc(func(ctx context.Context) (bool, error) {
		if _, _, err := c.do(ctx, "remote.delete", id, http.MethodDelete, c.itemURL(id), nil); err != nil {
			return false, err
		}
		return true, nil
	}))
}

func (c *Client[P]) send(op, method, target string, e entity.Entity[P]) reactive.Mono[entity.Entity[P]] {
	return reactive.FromFunc(func(ctx context.Context) (entity.Entity[P], error) {
		payload, err := json.Marshal(e)
		if err != nil {
			return entity.Entity[P]{}, result.Wrap(result.KindValidation, err, "encode request").WithOp(op).WithID(e.ID)
		}
		status, body, rerr := c.do(ctx, op, e.ID, method, target, payload)
		if rerr != nil {
			return entity.Entity[P]{}, rerr
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return e, nil
		}
		out, derr := decodeEntity[P](body)
		if derr != nil {
			return entity.Entity[P]{}, decodeError(op, e.ID, status, derr)
		}
		if out.ID == "" {
			out.ID = e.ID
		}
		return out, nil
	})
}

// do executes one request and maps the outcome onto the error taxonomy.
func (c *Client[P]) do(ctx context.Context, op, id, method, target string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, result.Wrap(result.KindNetwork, err, "build request").WithOp(op).WithID(id)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Str("id", id).Str("method", method).Msg("request failed")
		return 0, nil, result.Wrap(result.KindNetwork, err, "request failed").WithOp(op).WithID(id)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, result.Wrap(result.KindNetwork, err, "read response").
			WithOp(op).WithID(id).WithStatus(resp.StatusCode)
	}

	c.logger.Debug().
		Str("op", op).
		Str("id", id).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, data, nil
	}
	return resp.StatusCode, nil, result.New(KindForStatus(resp.StatusCode), statusMessage(resp, data)).
		WithOp(op).WithID(id).WithStatus(resp.StatusCode)
}

// KindForStatus maps a non-2xx HTTP status onto the error taxonomy.
func KindForStatus(status int) result.Kind {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return result.KindNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return result.KindConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return result.KindValidation
	}
	return result.KindServer
}

func statusMessage(resp *http.Response, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		return resp.Status
	}
	return resp.Status + ": " + msg
}

func decodeEntity[P any](body []byte) (entity.Entity[P], error) {
	var e entity.Entity[P]
	if err := json.Unmarshal(body, &e); err != nil {
		return entity.Entity[P]{}, err
	}
	e.UpdatedAt = entity.NormalizeTime(e.UpdatedAt)
	return e, nil
}

func decodeError(op, id string, status int, err error) error {
	return result.Wrap(result.KindServer, err, "undecodable response").WithOp(op).WithID(id).WithStatus(status)
}

func (c *Client[P]) collectionURL() string {
	return c.base.JoinPath(c.cfg.Resource).String()
}

func (c *Client[P]) itemURL(id string) string {
	return strings.TrimRight(c.collectionURL(), "/") + "/" + url.PathEscape(id)
}

func errIsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return result.Retryable(err) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client[P]) retryPolicy() reactive.RetryPolicy {
	return reactive.RetryPolicy{
		MaxRetries:   c.cfg.RetryCount,
		InitialDelay: c.cfg.RetryBackoff,
		MaxDelay:     c.cfg.RetryBackoff * 8,
		Retryable:    errIsRetryable,
	}
}

// read runs m on the scheduler, retrying per the configured policy. Each
// attempt waits for its own slot.
func read[T any](s *reactive.Scheduler, p reactive.RetryPolicy, m reactive.Mono[T]) reactive.Mono[T] {
	return m.SubscribeOn(s).Retry(p)
}

// write is read for non-idempotent calls: retries only when enabled.
func write[T any](s *reactive.Scheduler, p reactive.RetryPolicy, retry bool, m reactive.Mono[T]) reactive.Mono[T] {
	if !retry {
		return m.SubscribeOn(s)
	}
	return read(s, p, m)
}
