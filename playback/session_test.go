package playback

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	s := NewSession("cr-1", 30)
	s.State = StateCompleted
	s.Offset = 30
	s.StartTime = 1.5
	s.EndTime = 31.5
	s.LogEvent("impression", 0, 1.5, nil)
	s.LogEvent("complete", 30, 31.5, map[string]any{"note": "done"})
	s.ReachQuartile(0)
	s.ReachQuartile(4)
	s.Interrupt = nil
	s.Metadata = map[string]any{"publisher": "pub-1"}

	data, err := s.Save()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.CreativeID, loaded.CreativeID)
	assert.Equal(t, s.Duration, loaded.Duration)
	assert.Equal(t, s.State, loaded.State)
	assert.Equal(t, s.Offset, loaded.Offset)
	assert.Equal(t, s.StartTime, loaded.StartTime)
	assert.Equal(t, s.EndTime, loaded.EndTime)
	assert.Equal(t, s.Events, loaded.Events)
	assert.Equal(t, s.Quartiles, loaded.Quartiles)
	assert.Nil(t, loaded.Interrupt)
	assert.Equal(t, s.Metadata, loaded.Metadata)
}

func TestSessionLoadPreservesUnknownKeys(t *testing.T) {
	s := NewSession("cr-2", 15)
	data, err := s.Save()
	require.NoError(t, err)

	// A newer writer added a key this version does not know.
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["future_field"] = json.RawMessage(`{"x":1}`)
	patched, err := json.Marshal(doc)
	require.NoError(t, err)

	loaded, err := Load(patched)
	require.NoError(t, err)
	saved, err := loaded.Save()
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(saved, &out))
	assert.JSONEq(t, `{"x":1}`, string(out["future_field"]))
}

func TestSessionInterruptionRoundTrip(t *testing.T) {
	s := NewSession("cr-3", 20)
	s.State = StateError
	s.Interrupt = &Interruption{Reason: "interrupted before midpoint", Offset: 11.2}

	data, err := s.Save()
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)
	require.NotNil(t, loaded.Interrupt)
	assert.Equal(t, *s.Interrupt, *loaded.Interrupt)
}

func TestQuartileSetIdempotent(t *testing.T) {
	s := NewSession("cr-4", 20)
	s.ReachQuartile(2)
	s.ReachQuartile(2)
	s.ReachQuartile(1)
	assert.Equal(t, []int{1, 2}, s.Quartiles)
	assert.True(t, s.QuartileReached(2))
	assert.False(t, s.QuartileReached(3))
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load([]byte("not json"))
	require.Error(t, err)
}
