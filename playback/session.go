// Package playback drives the ad playback lifecycle: a Session records
// what happened, an Engine advances time and fires tracking events at the
// right offsets.
package playback

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pquerna/ffjson/ffjson"
)

// State is the session lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateClosed    State = "closed"
	StateError     State = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateClosed, StateError:
		return true
	}
	return false
}

// Event is one entry of the session's ordered event log.
type Event struct {
	Type      string         `json:"type"`
	Offset    float64        `json:"offset"`
	Timestamp float64        `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Interruption records a stochastic or externally injected abort.
type Interruption struct {
	Reason string  `json:"reason"`
	Offset float64 `json:"offset"`
}

// Session is the persistent record of one playback.
type Session struct {
	ID         string         `json:"session_id"`
	CreativeID string         `json:"creative_id"`
	Duration   int            `json:"duration"`
	State      State          `json:"state"`
	Offset     float64        `json:"current_offset"`
	StartTime  float64        `json:"start_time"`
	EndTime    float64        `json:"end_time"`
	Events     []Event        `json:"events"`
	Quartiles  []int          `json:"quartiles_reached"`
	Interrupt  *Interruption  `json:"interruption"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// unknown preserves keys written by newer versions so that
	// Load-then-Save round-trips without loss.
	unknown map[string]json.RawMessage
}

// NewSession builds a pending session with a fresh id.
func NewSession(creativeID string, durationSeconds int) *Session {
	return &Session{
		ID:         uuid.NewString(),
		CreativeID: creativeID,
		Duration:   durationSeconds,
		State:      StatePending,
	}
}

// LogEvent appends to the event log.
func (s *Session) LogEvent(eventType string, offset, timestamp float64, meta map[string]any) {
	s.Events = append(s.Events, Event{Type: eventType, Offset: offset, Timestamp: timestamp, Metadata: meta})
}

// ReachQuartile records quartile n (0 start .. 4 complete) once.
func (s *Session) ReachQuartile(n int) {
	for _, q := range s.Quartiles {
		if q == n {
			return
		}
	}
	s.Quartiles = append(s.Quartiles, n)
	sort.Ints(s.Quartiles)
}

// QuartileReached reports whether quartile n is in the reached set.
func (s *Session) QuartileReached(n int) bool {
	for _, q := range s.Quartiles {
		if q == n {
			return true
		}
	}
	return false
}

// EventTypes returns the logged event types in order.
func (s *Session) EventTypes() []string {
	out := make([]string, len(s.Events))
	for i, e := range s.Events {
		out[i] = e.Type
	}
	return out
}

// sessionKnownKeys are the document keys owned by this version.
var sessionKnownKeys = map[string]bool{
	"session_id": true, "creative_id": true, "duration": true,
	"state": true, "current_offset": true, "start_time": true,
	"end_time": true, "events": true, "quartiles_reached": true,
	"interruption": true, "metadata": true,
}

// Save serializes the session as a self-describing JSON document,
// carrying along any unknown keys read by Load.
func (s *Session) Save() ([]byte, error) {
	doc := map[string]any{
		"session_id":        s.ID,
		"creative_id":       s.CreativeID,
		"duration":          s.Duration,
		"state":             string(s.State),
		"current_offset":    s.Offset,
		"start_time":        s.StartTime,
		"end_time":          s.EndTime,
		"events":            s.Events,
		"quartiles_reached": s.Quartiles,
		"interruption":      s.Interrupt,
		"metadata":          s.Metadata,
	}
	for k, raw := range s.unknown {
		doc[k] = raw
	}
	return ffjson.Marshal(doc)
}

// Load parses a document produced by Save (possibly by a newer version;
// unrecognized keys are preserved for the next Save).
func Load(data []byte) (*Session, error) {
	var doc map[string]json.RawMessage
	if err := ffjson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("playback: load session: %w", err)
	}
	s := &Session{}
	fields := map[string]any{
		"session_id":        &s.ID,
		"creative_id":       &s.CreativeID,
		"duration":          &s.Duration,
		"state":             &s.State,
		"current_offset":    &s.Offset,
		"start_time":        &s.StartTime,
		"end_time":          &s.EndTime,
		"events":            &s.Events,
		"quartiles_reached": &s.Quartiles,
		"interruption":      &s.Interrupt,
		"metadata":          &s.Metadata,
	}
	for key, dst := range fields {
		raw, ok := doc[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("playback: session key %q: %w", key, err)
		}
	}
	for k, raw := range doc {
		if !sessionKnownKeys[k] {
			if s.unknown == nil {
				s.unknown = make(map[string]json.RawMessage)
			}
			s.unknown[k] = raw
		}
	}
	if s.State == "" {
		s.State = StatePending
	}
	return s, nil
}
