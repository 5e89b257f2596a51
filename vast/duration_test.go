package vast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		seconds int
		str     string
		wantErr bool
	}{
		{in: "00:00:30", seconds: 30, str: "00:00:30"},
		{in: "00:01:05", seconds: 65, str: "00:01:05"},
		{in: "01:00:00", seconds: 3600, str: "01:00:00"},
		{in: "00:00:15.250", seconds: 15, str: "00:00:15.250"},
		{in: "00:00:15.750", seconds: 16, str: "00:00:15.750"},
		{in: "0:00:07", seconds: 7, str: "00:00:07"},
		{in: "00:00", wantErr: true},
		{in: "garbage", wantErr: true},
		{in: "00:61:00", wantErr: true},
		{in: "00:00:61", wantErr: true},
		{in: "00:00:10.5", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseDuration(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.seconds, d.Seconds())
			assert.Equal(t, tc.str, d.String())
		})
	}
}

func TestDurationRoundHalfToEven(t *testing.T) {
	even, err := ParseDuration("00:00:30.500")
	require.NoError(t, err)
	assert.Equal(t, 30, even.Seconds())

	odd, err := ParseDuration("00:00:31.500")
	require.NoError(t, err)
	assert.Equal(t, 32, odd.Seconds())
}

func TestDurationUnmarshalEmpty(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText(nil))
	assert.Equal(t, 0, d.Seconds())
}

func TestOffsetForms(t *testing.T) {
	tests := []struct {
		in       string
		total    int
		resolved int
	}{
		{in: "00:00:10", total: 30, resolved: 10},
		{in: "50%", total: 30, resolved: 15},
		{in: "5", total: 30, resolved: 5},
		{in: "-5", total: 30, resolved: 25},
		{in: "-40", total: 30, resolved: 0},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			var o Offset
			require.NoError(t, o.UnmarshalText([]byte(tc.in)))
			assert.Equal(t, tc.resolved, o.Seconds(tc.total))
		})
	}

	var o Offset
	require.Error(t, o.UnmarshalText([]byte("150%")))
	require.Error(t, o.UnmarshalText([]byte("abc")))
}
