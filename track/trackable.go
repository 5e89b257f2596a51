// Package track fires tracking URLs for ad lifecycle events. A Trackable
// is one URL with its delivery state; a Tracker is the registry mapping
// event types to ordered trackables.
package track

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeffwalter-rum/vastclient/macro"
	"github.com/jeffwalter-rum/vastclient/vasterr"
)

// State is the mutable delivery state of a trackable. Once Tracked is set
// further sends are no-ops.
type State struct {
	Tracked          bool
	Failed           bool
	Reason           vasterr.Kind
	Attempts         int
	LastResponseTime time.Duration
}

// SendConfig tunes one delivery attempt series.
type SendConfig struct {
	// MaxRetries bounds retries after the first attempt.
	MaxRetries int
	// RetryDelay is the initial backoff interval.
	RetryDelay time.Duration
	// BackoffMultiplier grows the delay between attempts. Values below 1
	// take DefaultSendConfig's multiplier.
	BackoffMultiplier float64
	// Timeout bounds each individual request.
	Timeout time.Duration
}

// DefaultSendConfig supplies RetryDelay, BackoffMultiplier and Timeout
// where a SendConfig leaves them unset. MaxRetries is never defaulted: a
// zero MaxRetries means no retries.
var DefaultSendConfig = SendConfig{
	MaxRetries:        2,
	RetryDelay:        200 * time.Millisecond,
	BackoffMultiplier: 2,
	Timeout:           5 * time.Second,
}

func (c SendConfig) withDefaults() SendConfig {
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultSendConfig.RetryDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultSendConfig.BackoffMultiplier
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSendConfig.Timeout
	}
	return c
}

// Trackable is one tracking URL template plus state. The caller must not
// fire the same trackable from two goroutines at once; Send serializes
// state mutation but the once-only guarantee is per completed call.
type Trackable struct {
	// Key is the stable event key, e.g. "impression" or "progress-25".
	Key string
	// URL is the template with unexpanded macros.
	URL string
	// Extras are trackable-specific macro values merged below explicit
	// macros at send time.
	Extras macro.Map

	engine *macro.Engine

	mu    sync.Mutex
	state State
}

// NewTrackable builds a trackable with its own macro cache.
func NewTrackable(key, url string) *Trackable {
	return &Trackable{Key: key, URL: url, engine: macro.NewEngine()}
}

// State returns a copy of the current delivery state.
func (t *Trackable) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Send resolves macros and issues the GET, retrying per cfg. It returns
// the final status code and an error for terminal failure. Sending an
// already-tracked trackable is a no-op returning the zero status.
func (t *Trackable) Send(ctx context.Context, client *http.Client, macros macro.Map, cfg SendConfig) (int, error) {
	t.mu.Lock()
	if t.state.Tracked {
		t.mu.Unlock()
		return 0, nil
	}
	t.mu.Unlock()

	if t.URL == "" {
		t.fail(vasterr.KindEmptyURL)
		return 0, vasterr.New(vasterr.KindEmptyURL, "trackable has empty URL").WithPhase(vasterr.PhaseTrack)
	}

	cfg = cfg.withDefaults()
	if t.engine == nil {
		t.engine = macro.NewEngine()
	}
	resolved := t.engine.Expand(t.URL, t.Extras.Merge(macros))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryDelay
	bo.Multiplier = cfg.BackoffMultiplier
	bo.RandomizationFactor = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries)), ctx)

	var status int
	start := time.Now()
	err := backoff.Retry(func() error {
		t.mu.Lock()
		t.state.Attempts++
		t.mu.Unlock()

		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, resolved, nil)
		if err != nil {
			return backoff.Permanent(vasterr.Wrap(vasterr.KindTransport, err, "build tracking request"))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(vasterr.Wrap(vasterr.KindCancelled, ctx.Err(), "tracking cancelled"))
			}
			return vasterr.Wrap(vasterr.KindTransport, err, "tracking request")
		}
		resp.Body.Close()
		status = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			e := vasterr.Newf(vasterr.KindHTTPStatus, "tracking status %d", resp.StatusCode).WithStatus(resp.StatusCode)
			return e
		}
		return nil
	}, policy)

	elapsed := time.Since(start)
	if err != nil {
		kind := vasterr.KindOf(err)
		if kind == "" {
			kind = vasterr.KindTransport
		}
		t.fail(kind)
		return status, fmt.Errorf("send %s: %w", t.Key, err)
	}

	t.mu.Lock()
	t.state.Tracked = true
	t.state.Failed = false
	t.state.Reason = ""
	t.state.LastResponseTime = elapsed
	t.mu.Unlock()
	return status, nil
}

func (t *Trackable) fail(kind vasterr.Kind) {
	t.mu.Lock()
	t.state.Failed = true
	t.state.Reason = kind
	t.mu.Unlock()
}
