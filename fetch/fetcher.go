// Package fetch retrieves raw VAST bodies from one or more ad sources
// under a configurable strategy: sequential walks the list in order,
// parallel and race fan out and keep the first success.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jeffwalter-rum/vastclient/metrics"
	"github.com/jeffwalter-rum/vastclient/vasterr"
)

// Mode selects how the source list is attempted.
type Mode string

const (
	// Sequential tries sources in list order, stopping at the first
	// success.
	Sequential Mode = "sequential"
	// Parallel launches one request per source and keeps the first
	// success, cancelling the rest.
	Parallel Mode = "parallel"
	// Race is parallel with the explicit guarantee that the fastest
	// success wins; slower successes are cancelled and discarded.
	Race Mode = "race"
)

// Strategy governs attempts across and within sources.
type Strategy struct {
	Mode Mode
	// PerSourceTimeout bounds each individual source attempt.
	PerSourceTimeout time.Duration
	// OverallTimeout, when positive, is a hard deadline across all
	// sources and retries.
	OverallTimeout time.Duration
	// Retries bounds retries per source after the first attempt.
	Retries int
	// BackoffBase is the first retry delay.
	BackoffBase time.Duration
	// BackoffMultiplier grows the delay per attempt; values below 1 are
	// treated as 1.
	BackoffMultiplier float64
}

// DefaultStrategy is sequential with modest retries.
var DefaultStrategy = Strategy{
	Mode:              Sequential,
	PerSourceTimeout:  5 * time.Second,
	Retries:           1,
	BackoffBase:       250 * time.Millisecond,
	BackoffMultiplier: 2,
}

// Config is one fetch operation over a source list.
type Config struct {
	// Sources is the ordered, non-empty source URL list.
	Sources []string
	// Strategy defaults to DefaultStrategy when zero.
	Strategy Strategy
	// Params are query parameters composed onto every source URL.
	Params map[string]string
	// Headers are set on every request.
	Headers map[string]string
}

// Response is a successful fetch.
type Response struct {
	// Body is the raw XML payload.
	Body []byte
	// Source is the URL that won.
	Source string
	// Records holds the errors of attempts that failed before the win.
	Records []vasterr.Record
	// Elapsed is the wall time of the whole operation.
	Elapsed time.Duration
}

// Fetcher executes fetch configs over a shared HTTP client.
type Fetcher struct {
	client *http.Client
	log    zerolog.Logger
	col    metrics.Collector
}

// Option mutates a Fetcher at construction.
type Option func(*Fetcher)

// WithLogger injects a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// WithCollector injects a metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(f *Fetcher) { f.col = c }
}

// New builds a Fetcher over client.
func New(client *http.Client, opts ...Option) *Fetcher {
	f := &Fetcher{client: client, log: zerolog.Nop(), col: metrics.Nop()}
	for _, o := range opts {
		o(f)
	}
	return f
}

type attemptResult struct {
	source string
	body   []byte
	err    error
}

// Fetch runs cfg and returns the winning body. On total failure the
// returned Response still carries every per-attempt Record.
func (f *Fetcher) Fetch(ctx context.Context, cfg Config) (*Response, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("fetch: source list is empty")
	}
	strat := cfg.Strategy
	if strat.Mode == "" {
		strat = DefaultStrategy
	}
	if strat.BackoffMultiplier < 1 {
		strat.BackoffMultiplier = 1
	}

	start := time.Now()
	if strat.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, strat.OverallTimeout)
		defer cancel()
	}

	var resp *Response
	var err error
	switch strat.Mode {
	case Parallel, Race:
		resp, err = f.fetchParallel(ctx, cfg, strat)
	default:
		resp, err = f.fetchSequential(ctx, cfg, strat)
	}
	if resp != nil {
		resp.Elapsed = time.Since(start)
		f.col.Observe(metrics.FetchDuration, resp.Elapsed.Seconds(), map[string]string{"mode": string(strat.Mode)})
	}
	return resp, err
}

func (f *Fetcher) fetchSequential(ctx context.Context, cfg Config, strat Strategy) (*Response, error) {
	var records []vasterr.Record
	for _, src := range cfg.Sources {
		body, err := f.attemptWithRetry(ctx, src, cfg, strat)
		if err == nil {
			return &Response{Body: body, Source: src, Records: records}, nil
		}
		records = append(records, vasterr.RecordOf(src, vasterr.PhaseFetch, err))
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &Response{Records: records}, vasterr.New(vasterr.KindTimeoutOverall, "overall deadline exceeded")
			}
			return &Response{Records: records}, vasterr.Wrap(vasterr.KindCancelled, ctx.Err(), "fetch cancelled")
		}
	}
	return &Response{Records: records}, fmt.Errorf("fetch: all %d sources failed", len(cfg.Sources))
}

func (f *Fetcher) fetchParallel(ctx context.Context, cfg Config, strat Strategy) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attemptResult, len(cfg.Sources))
	for _, src := range cfg.Sources {
		go func(src string) {
			body, err := f.attemptWithRetry(ctx, src, cfg, strat)
			results <- attemptResult{source: src, body: body, err: err}
		}(src)
	}

	var records []vasterr.Record
	for range cfg.Sources {
		select {
		case r := <-results:
			if r.err == nil {
				// First success wins; outstanding requests observe the
				// cancelled context. Errors recorded so far belong to
				// sources that finished before the winner.
				cancel()
				return &Response{Body: r.body, Source: r.source, Records: records}, nil
			}
			records = append(records, vasterr.RecordOf(r.source, vasterr.PhaseFetch, r.err))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &Response{Records: records}, vasterr.New(vasterr.KindTimeoutOverall, "overall deadline exceeded")
			}
			return &Response{Records: records}, vasterr.Wrap(vasterr.KindCancelled, ctx.Err(), "fetch cancelled")
		}
	}
	return &Response{Records: records}, fmt.Errorf("fetch: all %d sources failed", len(cfg.Sources))
}

// attemptWithRetry runs one source through the retry schedule. Kinds the
// taxonomy marks non-retryable (204, cancellation) short-circuit.
func (f *Fetcher) attemptWithRetry(ctx context.Context, src string, cfg Config, strat Strategy) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = strat.BackoffBase
	bo.Multiplier = strat.BackoffMultiplier
	bo.RandomizationFactor = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(strat.Retries)), ctx)

	var body []byte
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		f.col.Count(metrics.FetchAttempts, 1, map[string]string{"source": src})
		b, err := f.attempt(ctx, src, cfg, strat)
		if err != nil {
			if !vasterr.Retryable(vasterr.KindOf(err)) {
				return backoff.Permanent(err)
			}
			f.log.Debug().Str("source", src).Int("attempt", attempt).Err(err).Msg("fetch attempt failed")
			return err
		}
		body = b
		return nil
	}, policy)
	if err != nil {
		f.col.Count(metrics.FetchFailures, 1, map[string]string{"source": src})
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) attempt(ctx context.Context, src string, cfg Config, strat Strategy) ([]byte, error) {
	target, err := composeURL(src, cfg.Params)
	if err != nil {
		return nil, backoff.Permanent(vasterr.Wrap(vasterr.KindTransport, err, "compose URL").WithSource(src))
	}

	reqCtx := ctx
	if strat.PerSourceTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, strat.PerSourceTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, vasterr.Wrap(vasterr.KindTransport, err, "build request").WithSource(src)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, vasterr.Wrap(vasterr.KindCancelled, ctx.Err(), "request cancelled").WithSource(src)
		case reqCtx.Err() != nil:
			return nil, vasterr.Wrap(vasterr.KindTimeoutPerSource, reqCtx.Err(), "per-source timeout").WithSource(src)
		default:
			return nil, vasterr.Wrap(vasterr.KindTransport, err, "request failed").WithSource(src)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, vasterr.New(vasterr.KindNoContent, "no ad available").WithSource(src).WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, vasterr.Newf(vasterr.KindHTTPStatus, "status %d", resp.StatusCode).WithSource(src).WithStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vasterr.Wrap(vasterr.KindTransport, err, "read body").WithSource(src)
	}
	if len(body) == 0 {
		return nil, vasterr.New(vasterr.KindNoContent, "empty body").WithSource(src).WithStatus(resp.StatusCode)
	}
	return body, nil
}

func composeURL(src string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return src, nil
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
