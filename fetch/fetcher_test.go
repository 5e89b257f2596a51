package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffwalter-rum/vastclient/vasterr"
)

const body = `<VAST version="4.0"></VAST>`

func fastStrategy(mode Mode) Strategy {
	return Strategy{
		Mode:              mode,
		PerSourceTimeout:  2 * time.Second,
		Retries:           0,
		BackoffBase:       5 * time.Millisecond,
		BackoffMultiplier: 1,
	}
}

func okServer(t *testing.T, delay time.Duration, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		time.Sleep(delay)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, status int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSequentialFirstSuccessStops(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	a := okServer(t, 0, &hitsA)
	b := okServer(t, 0, &hitsB)

	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{
		Sources:  []string{a.URL, b.URL},
		Strategy: fastStrategy(Sequential),
	})
	require.NoError(t, err)
	assert.Equal(t, a.URL, resp.Source)
	assert.Equal(t, body, string(resp.Body))
	assert.Empty(t, resp.Records)
	assert.EqualValues(t, 1, hitsA.Load())
	assert.EqualValues(t, 0, hitsB.Load())
}

func TestSequentialErrorsArePrefix(t *testing.T) {
	bad := statusServer(t, http.StatusInternalServerError, nil)
	good := okServer(t, 0, nil)
	unreached := statusServer(t, http.StatusTeapot, nil)

	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{
		Sources:  []string{bad.URL, good.URL, unreached.URL},
		Strategy: fastStrategy(Sequential),
	})
	require.NoError(t, err)
	assert.Equal(t, good.URL, resp.Source)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, vasterr.KindHTTPStatus, resp.Records[0].Kind)
	assert.Equal(t, bad.URL, resp.Records[0].Source)
	assert.Equal(t, http.StatusInternalServerError, resp.Records[0].StatusCode)
}

func TestNoContentNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusNoContent, &hits)

	strat := fastStrategy(Sequential)
	strat.Retries = 3
	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{Sources: []string{srv.URL}, Strategy: strat})
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load(), "204 must not be retried")
	require.Len(t, resp.Records, 1)
	assert.Equal(t, vasterr.KindNoContent, resp.Records[0].Kind)
}

func TestRetryOnHTTPStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	strat := fastStrategy(Sequential)
	strat.Retries = 2
	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{Sources: []string{srv.URL}, Strategy: strat})
	require.NoError(t, err)
	assert.Equal(t, srv.URL, resp.Source)
	assert.EqualValues(t, 3, hits.Load())
}

func TestParallelFirstValidWins(t *testing.T) {
	fast := okServer(t, 20*time.Millisecond, nil)
	failing := statusServer(t, http.StatusInternalServerError, nil)
	slow := okServer(t, 200*time.Millisecond, nil)

	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{
		Sources:  []string{fast.URL, failing.URL, slow.URL},
		Strategy: fastStrategy(Parallel),
	})
	require.NoError(t, err)
	assert.Equal(t, fast.URL, resp.Source)

	// Only the failing source finished before the winner; the slow
	// success was cancelled, not recorded.
	require.Len(t, resp.Records, 1)
	assert.Equal(t, vasterr.KindHTTPStatus, resp.Records[0].Kind)
	assert.Equal(t, failing.URL, resp.Records[0].Source)
}

func TestRaceAllFail(t *testing.T) {
	a := statusServer(t, http.StatusInternalServerError, nil)
	b := statusServer(t, http.StatusBadRequest, nil)

	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{
		Sources:  []string{a.URL, b.URL},
		Strategy: fastStrategy(Race),
	})
	require.Error(t, err)
	assert.Len(t, resp.Records, 2)
}

func TestOverallTimeout(t *testing.T) {
	slow := okServer(t, time.Second, nil)

	strat := fastStrategy(Parallel)
	strat.OverallTimeout = 50 * time.Millisecond
	f := New(http.DefaultClient)
	_, err := f.Fetch(context.Background(), Config{Sources: []string{slow.URL}, Strategy: strat})
	require.Error(t, err)
	assert.Equal(t, vasterr.KindTimeoutOverall, vasterr.KindOf(err))
}

func TestPerSourceTimeout(t *testing.T) {
	slow := okServer(t, time.Second, nil)

	strat := fastStrategy(Sequential)
	strat.PerSourceTimeout = 50 * time.Millisecond
	f := New(http.DefaultClient)
	resp, err := f.Fetch(context.Background(), Config{Sources: []string{slow.URL}, Strategy: strat})
	require.Error(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, vasterr.KindTimeoutPerSource, resp.Records[0].Kind)
}

func TestCancellation(t *testing.T) {
	slow := okServer(t, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	f := New(http.DefaultClient)
	start := time.Now()
	_, err := f.Fetch(ctx, Config{Sources: []string{slow.URL}, Strategy: fastStrategy(Sequential)})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation must release promptly")
}

func TestQueryParamsAndHeaders(t *testing.T) {
	var gotParam, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParam = r.URL.Query().Get("slot")
		gotHeader = r.Header.Get("X-Publisher")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	f := New(http.DefaultClient)
	_, err := f.Fetch(context.Background(), Config{
		Sources:  []string{srv.URL + "?existing=1"},
		Strategy: fastStrategy(Sequential),
		Params:   map[string]string{"slot": "pre-roll"},
		Headers:  map[string]string{"X-Publisher": "pub-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pre-roll", gotParam)
	assert.Equal(t, "pub-1", gotHeader)
}

func TestEmptySourceList(t *testing.T) {
	f := New(http.DefaultClient)
	_, err := f.Fetch(context.Background(), Config{})
	require.Error(t, err)
}
