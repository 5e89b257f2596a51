// Package vastclient retrieves, parses, filters and tracks VAST ads from
// one or more upstream ad servers. A Client composes the multi-source
// fetcher, the tolerant parser, the media filter and the tracker into a
// single request pipeline with fallback cascades; the playback package
// drives quartile tracking over real or virtual time.
package vastclient

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jeffwalter-rum/vastclient/fetch"
	"github.com/jeffwalter-rum/vastclient/metrics"
	"github.com/jeffwalter-rum/vastclient/parse"
	"github.com/jeffwalter-rum/vastclient/track"
	"github.com/jeffwalter-rum/vastclient/transport"
)

// Config is the full construction surface of a Client. The zero value of
// every field has a usable default.
type Config struct {
	// Sources is the default primary source group for Request.
	Sources []string
	// Fallbacks is the default fallback list.
	Fallbacks []string
	// Strategy is the default fetch strategy.
	Strategy fetch.Strategy
	// Params and Headers are composed onto every ad request.
	Params  map[string]string
	Headers map[string]string
	// Filter gates parsed ads.
	Filter *parse.Filter
	// AutoTrack fires the impression on success; on by default through
	// New (set DisableAutoTrack to turn it off).
	DisableAutoTrack bool
	// WrapperDepthLimit bounds wrapper resolution (default 5).
	WrapperDepthLimit int

	// TLSVerify selects certificate checking for both clients.
	TLSVerify transport.VerifyMode
	// HTTP tunes the ad-request client, TrackingHTTP the tracking client.
	HTTP         transport.Options
	TrackingHTTP transport.Options

	// Tracker carries macro and retry settings for tracking.
	Tracker track.Config
	// Parser tunes XML handling.
	Parser parse.Config

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
	// Collector defaults to the no-op collector.
	Collector metrics.Collector
}

// Client is the library facade. It is safe for concurrent Request calls;
// per-call state lives in the returned Result.
type Client struct {
	cfg  Config
	log  zerolog.Logger
	col  metrics.Collector
	pool *transport.Pool
	// trackPool is separate so tracking keepalive settings never collide
	// with the ad-request client for the same verify mode.
	trackPool   *transport.Pool
	httpClient  *http.Client
	trackClient *http.Client
	orch        *Orchestrator
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	c := &Client{
		cfg:       cfg,
		log:       zerolog.Nop(),
		col:       cfg.Collector,
		pool:      transport.NewPool(),
		trackPool: transport.NewPool(),
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}
	if c.col == nil {
		c.col = metrics.Nop()
	}

	httpOpts := cfg.HTTP
	if httpOpts == (transport.Options{}) {
		httpOpts = transport.DefaultOptions
	}
	trackOpts := cfg.TrackingHTTP
	if trackOpts == (transport.Options{}) {
		trackOpts = transport.TrackingOptions
	}

	var err error
	if c.httpClient, err = c.pool.Client(cfg.TLSVerify, httpOpts); err != nil {
		return nil, err
	}
	if c.trackClient, err = c.trackPool.Client(cfg.TLSVerify, trackOpts); err != nil {
		return nil, err
	}

	c.buildOrchestrator()
	return c, nil
}

// NewFromURL builds a minimal client requesting a single source.
func NewFromURL(url string) (*Client, error) {
	if url == "" {
		return nil, errors.New("vastclient: empty source URL")
	}
	return New(Config{Sources: []string{url}})
}

// NewFromClient builds a Client on top of an existing HTTP client, for
// callers that compose their own transport, auth or middleware. The same
// client serves ad requests and tracking; Close leaves it untouched.
func NewFromClient(hc *http.Client, cfg Config) (*Client, error) {
	if hc == nil {
		return nil, errors.New("vastclient: nil http client")
	}
	c := &Client{
		cfg:         cfg,
		log:         zerolog.Nop(),
		col:         cfg.Collector,
		httpClient:  hc,
		trackClient: hc,
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}
	if c.col == nil {
		c.col = metrics.Nop()
	}
	c.buildOrchestrator()
	return c, nil
}

func (c *Client) buildOrchestrator() {
	fetcher := fetch.New(c.httpClient, fetch.WithLogger(c.log), fetch.WithCollector(c.col))
	parser := parse.New(c.cfg.Parser)
	c.orch = NewOrchestrator(fetcher, parser, c.trackClient, c.cfg.Tracker, c.log, c.col)
}

// RequestOption overrides per-call pieces of the client's defaults.
type RequestOption func(*FetchConfig)

// WithSources replaces the source group for this call.
func WithSources(sources ...string) RequestOption {
	return func(fc *FetchConfig) { fc.Sources = sources }
}

// WithFallbacks replaces the fallback list for this call.
func WithFallbacks(fallbacks ...string) RequestOption {
	return func(fc *FetchConfig) { fc.Fallbacks = fallbacks }
}

// WithStrategy replaces the fetch strategy for this call.
func WithStrategy(s fetch.Strategy) RequestOption {
	return func(fc *FetchConfig) { fc.Strategy = s }
}

// WithParams merges query parameters over the client defaults.
func WithParams(params map[string]string) RequestOption {
	return func(fc *FetchConfig) {
		merged := make(map[string]string, len(fc.Params)+len(params))
		for k, v := range fc.Params {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		fc.Params = merged
	}
}

// WithHeaders merges headers over the client defaults.
func WithHeaders(headers map[string]string) RequestOption {
	return func(fc *FetchConfig) {
		merged := make(map[string]string, len(fc.Headers)+len(headers))
		for k, v := range fc.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		fc.Headers = merged
	}
}

// WithFilter replaces the parse filter for this call.
func WithFilter(f *parse.Filter) RequestOption {
	return func(fc *FetchConfig) { fc.Filter = f }
}

// WithAutoTrack overrides impression auto-tracking for this call.
func WithAutoTrack(on bool) RequestOption {
	return func(fc *FetchConfig) { fc.AutoTrack = on }
}

// WithWrapperDepth overrides the wrapper depth limit for this call.
func WithWrapperDepth(limit int) RequestOption {
	return func(fc *FetchConfig) { fc.WrapperDepthLimit = limit }
}

func (c *Client) fetchConfig(opts ...RequestOption) FetchConfig {
	fc := FetchConfig{
		Sources:           append([]string(nil), c.cfg.Sources...),
		Fallbacks:         append([]string(nil), c.cfg.Fallbacks...),
		Strategy:          c.cfg.Strategy,
		Params:            c.cfg.Params,
		Headers:           c.cfg.Headers,
		Filter:            c.cfg.Filter,
		AutoTrack:         !c.cfg.DisableAutoTrack,
		WrapperDepthLimit: c.cfg.WrapperDepthLimit,
	}
	for _, o := range opts {
		o(&fc)
	}
	return fc
}

// Request runs the pipeline over the client's sources (or per-call
// overrides). Exhausting every candidate is not a Go error: the result
// comes back with a nil Ad and the full error list.
func (c *Client) Request(ctx context.Context, opts ...RequestOption) (*Result, error) {
	fc := c.fetchConfig(opts...)
	if len(fc.Sources) == 0 {
		return nil, errors.New("vastclient: no sources configured")
	}
	return c.orch.Execute(ctx, fc), nil
}

// RequestWithFallback runs the pipeline with an explicit primary and
// fallback list, overriding the client defaults.
func (c *Client) RequestWithFallback(ctx context.Context, primary string, fallbacks []string, opts ...RequestOption) (*Result, error) {
	all := append([]RequestOption{WithSources(primary), WithFallbacks(fallbacks...)}, opts...)
	return c.Request(ctx, all...)
}

// Orchestrator exposes the pipeline for advanced callers.
func (c *Client) Orchestrator() *Orchestrator {
	return c.orch
}

// Close releases the transport pools this client created. Clients built
// through NewFromClient own no pool and Close is a no-op.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.trackPool != nil {
		c.trackPool.Close()
	}
}
