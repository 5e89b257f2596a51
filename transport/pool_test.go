package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolOneEntryPerVerifyMode(t *testing.T) {
	p := NewPool()
	defer p.Close()

	a, err := p.Client(VerifyStrict, DefaultOptions)
	require.NoError(t, err)
	b, err := p.Client(VerifyStrict, DefaultOptions)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, p.Len())

	c, err := p.Client(VerifyInsecure, DefaultOptions)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, p.Len())

	// Repeated lookups with different options still share the mode's entry.
	d, err := p.Client(VerifyStrict, TrackingOptions)
	require.NoError(t, err)
	assert.Same(t, a, d)
	assert.Equal(t, 2, p.Len())
}

func TestPoolBadCABundle(t *testing.T) {
	p := NewPool()
	defer p.Close()

	_, err := p.Client(VerifyMode("/nonexistent/ca.pem"), DefaultOptions)
	require.Error(t, err)
}

func TestPoolClose(t *testing.T) {
	p := NewPool()
	_, err := p.Client(VerifyStrict, DefaultOptions)
	require.NoError(t, err)
	p.Close()
	assert.Equal(t, 0, p.Len())
}
