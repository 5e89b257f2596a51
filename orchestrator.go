package vastclient

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeffwalter-rum/vastclient/fetch"
	"github.com/jeffwalter-rum/vastclient/metrics"
	"github.com/jeffwalter-rum/vastclient/parse"
	"github.com/jeffwalter-rum/vastclient/track"
	"github.com/jeffwalter-rum/vastclient/vasterr"
)

// DefaultWrapperDepth bounds wrapper chain resolution.
const DefaultWrapperDepth = 5

// FetchConfig is one orchestrated request: a primary source group, its
// fallbacks, and the knobs applied along the pipeline.
type FetchConfig struct {
	// Sources is the ordered primary source group; it must not be empty.
	Sources []string
	// Fallbacks are tried one at a time after the primary group fails.
	Fallbacks []string
	// Strategy governs the fetch; zero means fetch.DefaultStrategy.
	Strategy fetch.Strategy
	// Params are query parameters composed onto every request.
	Params map[string]string
	// Headers are set on every request.
	Headers map[string]string
	// Filter, when set, gates parsed ads before tracking.
	Filter *parse.Filter
	// AutoTrack fires the impression event on the first success.
	AutoTrack bool
	// WrapperDepthLimit bounds wrapper resolution; zero means
	// DefaultWrapperDepth.
	WrapperDepthLimit int
}

// Result is the outcome of one orchestrated request.
type Result struct {
	// Ad is the resolved inline ad, or nil when every candidate failed.
	Ad *parse.Ad
	// Source is the URL of the winning primary or fallback.
	Source string
	// Tracker is pre-registered with the winning ad's URLs. Nil when no
	// ad was found.
	Tracker *track.Tracker
	// Errors lists every failed attempt across sources and fallbacks.
	Errors []vasterr.Record
	// Elapsed is the wall time of the whole call.
	Elapsed time.Duration
}

// Orchestrator runs the FETCH, PARSE, SELECT, TRACK pipeline over a fetch
// config. It is stateless per call and safe for concurrent use.
type Orchestrator struct {
	fetcher     *fetch.Fetcher
	parser      *parse.Parser
	trackClient *http.Client
	trackCfg    track.Config
	log         zerolog.Logger
	col         metrics.Collector
}

// NewOrchestrator wires the pipeline pieces together. It borrows the
// fetcher and parser; ownership stays with the caller.
func NewOrchestrator(fetcher *fetch.Fetcher, parser *parse.Parser, trackClient *http.Client, trackCfg track.Config, log zerolog.Logger, col metrics.Collector) *Orchestrator {
	if col == nil {
		col = metrics.Nop()
	}
	return &Orchestrator{
		fetcher:     fetcher,
		parser:      parser,
		trackClient: trackClient,
		trackCfg:    trackCfg,
		log:         log,
		col:         col,
	}
}

// Execute runs cfg through the pipeline. On total failure the result's Ad
// is nil and Errors explains every attempt; fallbacks are never tried
// after a success, and at most one auto-track impression fires per call.
func (o *Orchestrator) Execute(ctx context.Context, cfg FetchConfig) *Result {
	start := time.Now()
	res := &Result{}
	defer func() { res.Elapsed = time.Since(start) }()

	groups := make([][]string, 0, 1+len(cfg.Fallbacks))
	if len(cfg.Sources) > 0 {
		groups = append(groups, cfg.Sources)
	}
	for _, fb := range cfg.Fallbacks {
		groups = append(groups, []string{fb})
	}

	for _, group := range groups {
		ad, src, ok := o.tryGroup(ctx, group, cfg, res)
		if !ok {
			if ctx.Err() != nil {
				return res
			}
			continue
		}
		res.Ad = ad
		res.Source = src
		res.Tracker = track.FromAd(o.trackClient, o.trackCfg, ad,
			track.WithLogger(o.log), track.WithCollector(o.col))
		if cfg.AutoTrack {
			tr := res.Tracker.Track(ctx, "impression", nil)
			o.log.Debug().Str("source", src).Int("fired", tr.Succeeded).Msg("auto-tracked impression")
		}
		return res
	}
	o.log.Warn().Int("attempts", len(res.Errors)).Msg("every source and fallback failed")
	return res
}

// tryGroup runs one source group through fetch, parse and select.
func (o *Orchestrator) tryGroup(ctx context.Context, group []string, cfg FetchConfig, res *Result) (*parse.Ad, string, bool) {
	fres, err := o.fetcher.Fetch(ctx, fetch.Config{
		Sources:  group,
		Strategy: cfg.Strategy,
		Params:   cfg.Params,
		Headers:  cfg.Headers,
	})
	if fres != nil {
		res.Errors = append(res.Errors, fres.Records...)
	}
	if err != nil {
		return nil, "", false
	}

	ad, perr := o.resolveChain(ctx, fres.Body, fres.Source, cfg, res)
	if perr != nil {
		res.Errors = append(res.Errors, vasterr.RecordOf(fres.Source, vasterr.PhaseParse, perr))
		return nil, "", false
	}

	if serr := cfg.Filter.Accept(ad); serr != nil {
		res.Errors = append(res.Errors, vasterr.RecordOf(fres.Source, vasterr.PhaseSelect, serr))
		return nil, "", false
	}
	cfg.Filter.Apply(ad)
	return ad, fres.Source, true
}

// resolveChain follows wrapper redirects up to the depth limit, merging
// tracking state wrapper-first into the final inline record. On depth
// exhaustion or a failed hop the deepest parse is returned flagged, not
// dropped.
func (o *Orchestrator) resolveChain(ctx context.Context, body []byte, source string, cfg FetchConfig, res *Result) (*parse.Ad, error) {
	ad, err := o.parser.Parse(body)
	if err != nil {
		return nil, err
	}

	limit := cfg.WrapperDepthLimit
	if limit <= 0 {
		limit = DefaultWrapperDepth
	}
	version := ad.Version

	// Wrapper hops degrade to a sequential single-source fetch.
	nested := cfg.Strategy
	nested.Mode = fetch.Sequential

	depth := 0
	for ad.IsWrapper {
		if depth >= limit {
			ad.WrapperResolutionFailed = true
			res.Errors = append(res.Errors, vasterr.Record{
				Source: ad.WrapperURI, Phase: vasterr.PhaseParse,
				Kind: vasterr.KindWrapperDepthExceeded, Message: "wrapper depth limit reached",
			})
			break
		}
		depth++
		o.col.Gauge(metrics.WrapperDepth, float64(depth), nil)

		fres, err := o.fetcher.Fetch(ctx, fetch.Config{
			Sources:  []string{ad.WrapperURI},
			Strategy: nested,
			Params:   cfg.Params,
			Headers:  cfg.Headers,
		})
		if fres != nil {
			res.Errors = append(res.Errors, fres.Records...)
		}
		if err != nil {
			ad.WrapperResolutionFailed = true
			break
		}
		next, err := o.parser.Parse(fres.Body)
		if err != nil {
			res.Errors = append(res.Errors, vasterr.RecordOf(ad.WrapperURI, vasterr.PhaseParse, err))
			ad.WrapperResolutionFailed = true
			break
		}
		next.MergeWrapper(ad)
		ad = next
	}
	ad.Version = version
	return ad, nil
}
