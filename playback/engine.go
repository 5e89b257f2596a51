package playback

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeffwalter-rum/vastclient/macro"
	"github.com/jeffwalter-rum/vastclient/metrics"
	"github.com/jeffwalter-rum/vastclient/timesource"
	"github.com/jeffwalter-rum/vastclient/track"
)

// InterruptionRule injects a stochastic abort when its event comes due.
// Rules only apply on a virtual time source.
type InterruptionRule struct {
	// Probability of interrupting, in [0,1].
	Probability float64
	// JitterMin and JitterMax bound the random offset added to the
	// event's position when recording the interruption.
	JitterMin float64
	JitterMax float64
}

// Config tunes an Engine.
type Config struct {
	// TickInterval in seconds; zero picks 1.0 on a real source and 0.1
	// on a virtual one.
	TickInterval float64
	// MaxDuration caps, in seconds, the time elapsed on the engine's time
	// source since start (virtual seconds on a virtual source, paused time
	// included); exceeding it is a terminal error. Zero means no cap.
	MaxDuration float64
	// QuartileTolerance widens the due check so a quartile fires up to
	// this many seconds early.
	QuartileTolerance float64
	// Interruptions maps event type (start, firstQuartile, midpoint,
	// thirdQuartile, complete) to its rule.
	Interruptions map[string]InterruptionRule
}

type progressMark struct {
	key     string
	seconds int
	fired   bool
}

// Engine drives one session over a time source. Engines are single-owner:
// Run blocks the owning task, and Pause/Resume/Stop may be called from
// another while it runs.
type Engine struct {
	cfg     Config
	tracker *track.Tracker
	ts      timesource.Source
	virtual bool
	log     zerolog.Logger
	col     metrics.Collector
	rng     *rand.Rand

	mu       sync.Mutex
	session  *Session
	lastNow  float64
	progress []progressMark
}

// Option mutates an Engine at construction.
type Option func(*Engine)

// WithLogger injects a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithCollector injects a metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(e *Engine) { e.col = c }
}

// NewEngine builds an engine for session. The tracker may be nil, in
// which case events are logged to the session only. The RNG behind
// stochastic interruption is seeded from the session id so runs are
// reproducible.
func NewEngine(session *Session, tracker *track.Tracker, ts timesource.Source, cfg Config, opts ...Option) *Engine {
	_, virtual := ts.(*timesource.Virtual)
	if cfg.TickInterval <= 0 {
		if virtual {
			cfg.TickInterval = 0.1
		} else {
			cfg.TickInterval = 1.0
		}
	}
	e := &Engine{
		cfg:     cfg,
		tracker: tracker,
		ts:      ts,
		virtual: virtual,
		log:     zerolog.Nop(),
		col:     metrics.Nop(),
		rng:     rand.New(rand.NewSource(seedFrom(session.ID))),
		session: session,
	}
	for _, o := range opts {
		o(e)
	}
	if tracker != nil {
		for _, event := range tracker.Events() {
			if n, ok := progressSeconds(event, session.Duration); ok {
				e.progress = append(e.progress, progressMark{key: event, seconds: n})
			}
		}
	}
	return e
}

// Session returns the engine's session.
func (e *Engine) Session() *Session {
	return e.session
}

// Run executes the playback loop until a terminal state. It must be
// called once, on a pending session.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.session.State != StatePending {
		state := e.session.State
		e.mu.Unlock()
		return fmt.Errorf("playback: cannot start session in state %q", state)
	}
	now := e.ts.Now()
	if e.session.Duration <= 0 {
		e.session.LogEvent("error", 0, now, map[string]any{"reason": "zero duration"})
		e.transitionLocked(StateError)
		e.mu.Unlock()
		return fmt.Errorf("playback: zero-duration creative")
	}
	e.session.StartTime = now
	e.lastNow = now
	e.transitionLocked(StateRunning)
	e.mu.Unlock()

	if e.maybeInterrupt(ctx, "start", 0) {
		return nil
	}
	e.fire(ctx, "impression", 0)
	e.fire(ctx, "start", 0)
	e.fire(ctx, "creativeView", 0)
	e.mu.Lock()
	e.session.ReachQuartile(0)
	e.mu.Unlock()

	for {
		if err := e.ts.Sleep(ctx, e.cfg.TickInterval); err != nil {
			e.mu.Lock()
			e.session.LogEvent("error", e.session.Offset, e.ts.Now(), map[string]any{"reason": "cancelled"})
			e.transitionLocked(StateError)
			e.mu.Unlock()
			return err
		}

		e.mu.Lock()
		state := e.session.State
		if state.Terminal() {
			e.mu.Unlock()
			return nil
		}
		now := e.ts.Now()
		if state == StatePaused {
			e.lastNow = now
			e.mu.Unlock()
			continue
		}
		e.session.Offset += now - e.lastNow
		e.lastNow = now
		offset := e.session.Offset
		start := e.session.StartTime
		e.mu.Unlock()

		if e.cfg.MaxDuration > 0 && now-start > e.cfg.MaxDuration {
			e.mu.Lock()
			e.session.LogEvent("error", offset, now, map[string]any{"reason": "max session duration exceeded"})
			e.transitionLocked(StateError)
			e.mu.Unlock()
			return fmt.Errorf("playback: session exceeded %gs", e.cfg.MaxDuration)
		}

		if done, err := e.advance(ctx, offset, now); done {
			return err
		}
	}
}

// advance fires everything due at offset. It returns done when the
// session reached a terminal state.
func (e *Engine) advance(ctx context.Context, offset, now float64) (bool, error) {
	d := float64(e.session.Duration)
	quartiles := []struct {
		n    int
		name string
	}{
		{1, "firstQuartile"},
		{2, "midpoint"},
		{3, "thirdQuartile"},
	}
	for _, q := range quartiles {
		boundary := d * float64(q.n) / 4
		if offset+e.cfg.QuartileTolerance < boundary {
			break
		}
		e.mu.Lock()
		reached := e.session.QuartileReached(q.n)
		e.mu.Unlock()
		if reached {
			continue
		}
		if e.maybeInterrupt(ctx, q.name, boundary) {
			return true, nil
		}
		e.fire(ctx, q.name, offset)
		e.mu.Lock()
		e.session.ReachQuartile(q.n)
		e.mu.Unlock()
	}

	for i := range e.progress {
		m := &e.progress[i]
		if m.fired || offset < float64(m.seconds) {
			continue
		}
		e.fire(ctx, m.key, offset)
		m.fired = true
	}

	if offset+e.cfg.QuartileTolerance >= d {
		if e.maybeInterrupt(ctx, "complete", d) {
			return true, nil
		}
		e.fire(ctx, "complete", offset)
		e.mu.Lock()
		e.session.ReachQuartile(4)
		e.session.EndTime = now
		e.transitionLocked(StateCompleted)
		e.mu.Unlock()
		return true, nil
	}
	return false, nil
}

// Pause freezes the offset and fires the pause event. Valid only while
// running.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.session.State != StateRunning {
		state := e.session.State
		e.mu.Unlock()
		return fmt.Errorf("playback: cannot pause session in state %q", state)
	}
	now := e.ts.Now()
	e.session.Offset += now - e.lastNow
	e.lastNow = now
	offset := e.session.Offset
	e.transitionLocked(StatePaused)
	e.mu.Unlock()

	e.fire(ctx, "pause", offset)
	return nil
}

// Resume continues a paused session; the offset picks up where pause
// froze it.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.session.State != StatePaused {
		state := e.session.State
		e.mu.Unlock()
		return fmt.Errorf("playback: cannot resume session in state %q", state)
	}
	e.lastNow = e.ts.Now()
	offset := e.session.Offset
	e.transitionLocked(StateRunning)
	e.mu.Unlock()

	e.fire(ctx, "resume", offset)
	return nil
}

// Stop fires close and moves the session to its closed terminal state.
// The run loop observes the transition at its next tick.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.session.State != StateRunning && e.session.State != StatePaused {
		state := e.session.State
		e.mu.Unlock()
		return fmt.Errorf("playback: cannot stop session in state %q", state)
	}
	now := e.ts.Now()
	if e.session.State == StateRunning {
		e.session.Offset += now - e.lastNow
		e.lastNow = now
	}
	offset := e.session.Offset
	e.session.EndTime = now
	e.transitionLocked(StateClosed)
	e.mu.Unlock()

	e.fire(ctx, "close", offset)
	return nil
}

// Fail moves the session to the error terminal state with a reason.
func (e *Engine) Fail(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.State.Terminal() {
		return fmt.Errorf("playback: session already terminal (%q)", e.session.State)
	}
	e.session.LogEvent("error", e.session.Offset, e.ts.Now(), map[string]any{"reason": reason})
	e.transitionLocked(StateError)
	return nil
}

// transitionLocked records a state change; callers hold e.mu.
func (e *Engine) transitionLocked(next State) {
	prev := e.session.State
	e.session.State = next
	e.col.Count(metrics.PlaybackTransition, 1, map[string]string{"from": string(prev), "to": string(next)})
	e.log.Info().Str("session", e.session.ID).Str("from", string(prev)).Str("to", string(next)).Msg("playback transition")
}

// fire logs the event and delivers its tracking URLs with a fresh
// CONTENTPLAYHEAD macro.
func (e *Engine) fire(ctx context.Context, event string, offset float64) {
	now := e.ts.Now()
	e.mu.Lock()
	e.session.LogEvent(event, offset, now, nil)
	e.mu.Unlock()

	if e.tracker == nil {
		return
	}
	e.tracker.Track(ctx, event, macro.Map{"CONTENTPLAYHEAD": Playhead(offset)})
}

// maybeInterrupt consults the interruption rules for event. On a hit it
// records the interruption and moves the session to error. Interruption
// is a virtual-time test facility; real playback never interrupts.
func (e *Engine) maybeInterrupt(ctx context.Context, event string, eventOffset float64) bool {
	if !e.virtual {
		return false
	}
	rule, ok := e.cfg.Interruptions[event]
	if !ok || rule.Probability <= 0 {
		return false
	}
	if e.rng.Float64() >= rule.Probability {
		return false
	}
	jitter := rule.JitterMin
	if span := rule.JitterMax - rule.JitterMin; span > 0 {
		jitter += e.rng.Float64() * span
	}
	at := eventOffset + jitter

	e.mu.Lock()
	e.session.Offset = at
	e.session.Interrupt = &Interruption{Reason: "interrupted before " + event, Offset: at}
	e.session.LogEvent("interrupt", at, e.ts.Now(), map[string]any{"event": event})
	e.session.EndTime = e.ts.Now()
	e.transitionLocked(StateError)
	e.mu.Unlock()

	e.log.Warn().Str("session", e.session.ID).Str("event", event).Float64("offset", at).Msg("stochastic interruption")
	return true
}

// Playhead renders an offset in seconds as HH:MM:SS.mmm for the
// CONTENTPLAYHEAD macro.
func Playhead(offset float64) string {
	if offset < 0 {
		offset = 0
	}
	total := int(offset)
	ms := int((offset - float64(total)) * 1000)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func progressSeconds(event string, _ int) (int, bool) {
	const prefix = "progress-"
	if !strings.HasPrefix(event, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(event[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func seedFrom(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}
