// Package remote implements a Backtester that delegates to a backtest
// service over HTTP.
//
// Requests are retried with exponential backoff on transient failures and
// guarded by a circuit breaker so that an unavailable service fails trials
// fast instead of stalling a whole optimization run.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// maxErrorBody limits how much of an error response is copied into messages.
const maxErrorBody = 512

// BreakerSettings configures the circuit breaker around the service.
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// Config configures a Client.
type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	Breaker    BreakerSettings
}

// DefaultConfig returns settings suitable for a local backtest service.
func DefaultConfig(url string) Config {
	return Config{
		URL:        url,
		Timeout:    5 * time.Minute,
		MaxRetries: 3,
		BackoffMin: 100 * time.Millisecond,
		BackoffMax: 5 * time.Second,
		Breaker: BreakerSettings{
			MinRequests:     5,
			FailureRatio:    0.6,
			OpenTimeout:     30 * time.Second,
			HalfOpenMaxReqs: 1,
			CountInterval:   time.Minute,
		},
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger for retries and breaker transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegisterer registers the client's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// Client runs backtests on a remote service.
type Client struct {
	cfg        Config
	http       *http.Client
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *clientMetrics
	breaker    *gobreaker.CircuitBreaker
}

var _ optimization.Backtester = (*Client)(nil)

// New creates a client for the service at cfg.URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.Configuration("backtest service URL is required").WithComponent("remote_backtester")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.Configurationf("max retries must not be negative, got %d", cfg.MaxRetries).WithComponent("remote_backtester")
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = newClientMetrics(c.registerer)

	bs := cfg.Breaker
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backtest",
		MaxRequests: bs.HalfOpenMaxReqs,
		Interval:    bs.CountInterval,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bs.MinRequests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= bs.MinRequests && failureRatio >= bs.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.metrics.setState(to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
	})
	c.metrics.setState(c.breaker.State())

	return c, nil
}

type runRequest struct {
	Config optimization.StrategyConfig `json:"config"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Run implements optimization.Backtester.
func (c *Client) Run(ctx context.Context, cfg optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
	body, err := json.Marshal(runRequest{Config: cfg})
	if err != nil {
		return nil, errors.Wrap(errors.KindConfiguration, err, "encode strategy config").WithComponent("remote_backtester")
	}

	b := &backoff.Backoff{
		Min:    c.cfg.BackoffMin,
		Max:    c.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		result, err := c.attempt(ctx, body)
		if err == nil {
			c.metrics.requests.WithLabelValues("success").Inc()
			return result, nil
		}
		c.metrics.requests.WithLabelValues("failure").Inc()

		if !isTransient(err) || attempt >= c.cfg.MaxRetries {
			return nil, unwrapTransient(err)
		}

		delay := b.Duration()
		c.logger.Debug("Retrying backtest request",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(errors.KindBacktest, ctx.Err(), "backtest interrupted").WithComponent("remote_backtester")
		case <-timer.C:
		}
	}
}

func (c *Client) attempt(ctx context.Context, body []byte) (*optimization.AnalysisResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, body)
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Wrap(errors.KindBacktest, err, "backtest service unavailable").WithComponent("remote_backtester")
		}
		return nil, err
	}
	return out.(*optimization.AnalysisResult), nil
}

func (c *Client) do(ctx context.Context, body []byte) (*optimization.AnalysisResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindConfiguration, err, "build backtest request").WithComponent("remote_backtester")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindBacktest, ctx.Err(), "backtest interrupted").WithComponent("remote_backtester")
		}
		return nil, &transientError{errors.Wrap(errors.KindBacktest, err, "backtest request failed").WithComponent("remote_backtester")}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result optimization.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.KindBacktest, err, "decode analysis result").WithComponent("remote_backtester")
	}
	return &result, nil
}

// statusError maps a non-200 response onto the error taxonomy. Server
// errors and throttling are transient and retried.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := string(bytes.TrimSpace(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil {
		switch {
		case er.Error != "":
			msg = er.Error
		case er.Message != "":
			msg = er.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var e *errors.Error
	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		e = errors.Configurationf("backtest rejected configuration (%d): %s", code, msg)
	case code == http.StatusNotFound, code == http.StatusConflict, code == http.StatusFailedDependency:
		e = errors.Dataf("backtest data unavailable (%d): %s", code, msg)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return &transientError{errors.Backtestf("backtest service error (%d): %s", code, msg).WithComponent("remote_backtester")}
	default:
		e = errors.Backtestf("unexpected backtest response (%d): %s", code, msg)
	}
	return e.WithComponent("remote_backtester")
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }

func (t *transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var t *transientError
	return stderrors.As(err, &t)
}

func unwrapTransient(err error) error {
	var t *transientError
	if stderrors.As(err, &t) {
		return t.err
	}
	return err
}
