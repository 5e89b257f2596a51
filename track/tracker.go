package track

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeffwalter-rum/vastclient/macro"
	"github.com/jeffwalter-rum/vastclient/metrics"
	"github.com/jeffwalter-rum/vastclient/parse"
)

// Config tunes a Tracker.
type Config struct {
	// Send carries the per-trackable retry settings.
	Send SendConfig
	// Parallel fires all URLs of an event concurrently instead of in
	// registry order.
	Parallel bool
	// StaticMacros are provider-level values, lowest macro precedence.
	StaticMacros macro.Map
	// ContextMacros are ad-request fields, above static and below the
	// automatic builtins.
	ContextMacros macro.Map
	// DeviceID populates the DEVICE_ID builtin when set.
	DeviceID string
}

// ItemResult is the outcome of one trackable within a Track call.
type ItemResult struct {
	Key        string
	URL        string
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Result aggregates a Track call.
type Result struct {
	Succeeded int
	Total     int
	Items     []ItemResult
}

// Tracker is the registry of event type to ordered trackables. The
// registry is read-mostly after construction; Track is safe to call
// concurrently for distinct events.
type Tracker struct {
	client *http.Client
	cfg    Config
	log    zerolog.Logger
	col    metrics.Collector

	creativeID string

	mu     sync.RWMutex
	events map[string][]*Trackable
}

// Option mutates a Tracker at construction.
type Option func(*Tracker)

// WithLogger injects a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithCollector injects a metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(t *Tracker) { t.col = c }
}

// New builds an empty tracker firing through client.
func New(client *http.Client, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		client: client,
		cfg:    cfg,
		log:    zerolog.Nop(),
		col:    metrics.Nop(),
		events: make(map[string][]*Trackable),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// FromAd builds a tracker pre-registered with the ad's impression and
// tracking URLs. URL lists are copied, never aliased into the ad.
func FromAd(client *http.Client, cfg Config, ad *parse.Ad, opts ...Option) *Tracker {
	t := New(client, cfg, opts...)
	t.creativeID = ad.CreativeID
	t.Register("impression", ad.Impressions...)
	t.Register("error", ad.ErrorURLs...)
	for event, urls := range ad.Tracking {
		t.Register(event, urls...)
	}
	return t
}

// Register appends trackables for an event type, preserving order across
// calls. Event names are case-insensitive: "firstQuartile" and
// "firstquartile" address the same registry slot. Empty names are ignored.
func (t *Tracker) Register(event string, urls ...string) {
	event = strings.ToLower(event)
	if event == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range urls {
		t.events[event] = append(t.events[event], NewTrackable(event, u))
	}
}

// Events returns the registered event types.
func (t *Tracker) Events() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.events))
	for e := range t.events {
		out = append(out, e)
	}
	return out
}

// Trackables returns the registry entries for an event type.
func (t *Tracker) Trackables(event string) []*Trackable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Trackable(nil), t.events[strings.ToLower(event)]...)
}

// autoMacros are the builtins refreshed on every Track call.
func (t *Tracker) autoMacros() macro.Map {
	m := macro.Map{
		"CACHEBUSTER": uuid.NewString(),
		"TIMESTAMP":   strconv.FormatInt(time.Now().Unix(), 10),
	}
	if t.creativeID != "" {
		m["CREATIVE_ID"] = t.creativeID
	}
	if t.cfg.DeviceID != "" {
		m["DEVICE_ID"] = t.cfg.DeviceID
	}
	return m
}

// Track fires every URL registered for event. Explicitly provided macros
// take precedence over the automatic builtins, which sit above the
// ad-request context, which sits above provider static macros.
func (t *Tracker) Track(ctx context.Context, event string, macros macro.Map) Result {
	targets := t.Trackables(event)
	res := Result{Total: len(targets), Items: make([]ItemResult, len(targets))}
	if len(targets) == 0 {
		return res
	}

	merged := t.cfg.StaticMacros.
		Merge(t.cfg.ContextMacros).
		Merge(t.autoMacros()).
		Merge(macros)

	fire := func(i int, tr *Trackable) {
		start := time.Now()
		status, err := tr.Send(ctx, t.client, merged, t.cfg.Send)
		item := ItemResult{Key: tr.Key, URL: tr.URL, StatusCode: status, Err: err, Duration: time.Since(start)}
		res.Items[i] = item

		labels := map[string]string{"event": event}
		t.col.Observe(metrics.TrackDuration, item.Duration.Seconds(), labels)
		if err != nil {
			t.col.Count(metrics.TrackFailures, 1, labels)
			t.log.Warn().Str("event", event).Str("url", tr.URL).Err(err).Msg("tracking failed")
			return
		}
		t.col.Count(metrics.TrackFires, 1, labels)
		t.log.Debug().Str("event", event).Int("status", status).Dur("elapsed", item.Duration).Msg("tracking fired")
	}

	if t.cfg.Parallel {
		var g errgroup.Group
		for i, tr := range targets {
			i, tr := i, tr
			g.Go(func() error {
				fire(i, tr)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, tr := range targets {
			fire(i, tr)
		}
	}

	for _, item := range res.Items {
		if item.Err == nil {
			res.Succeeded++
		}
	}
	return res
}
