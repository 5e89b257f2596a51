package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffwalter-rum/vastclient/timesource"
)

func TestSourceForMode(t *testing.T) {
	src, err := SourceForMode(ModeHeadless, 10)
	require.NoError(t, err)
	assert.IsType(t, &timesource.Virtual{}, src)

	_, err = SourceForMode(ModeHeadless, 0)
	require.Error(t, err)

	src, err = SourceForMode(ModeReal, 0)
	require.NoError(t, err)
	assert.IsType(t, &timesource.Real{}, src)

	src, err = SourceForMode(ModeAuto, 0)
	require.NoError(t, err)
	assert.IsType(t, &timesource.Real{}, src)
}
