package vastclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffwalter-rum/vastclient/fetch"
	"github.com/jeffwalter-rum/vastclient/parse"
	"github.com/jeffwalter-rum/vastclient/vasterr"
)

func inlineVAST(impressionURL string) string {
	return fmt.Sprintf(`<VAST version="4.0">
 <Ad id="a1">
  <InLine>
   <AdSystem>TestServer</AdSystem>
   <AdTitle>Sample</AdTitle>
   <Impression><![CDATA[%s]]></Impression>
   <Creatives>
    <Creative id="cr-1">
     <Linear>
      <Duration>00:00:30</Duration>
      <TrackingEvents>
       <Tracking event="start"><![CDATA[https://t.example/start]]></Tracking>
       <Tracking event="firstQuartile"><![CDATA[https://t.example/q1]]></Tracking>
       <Tracking event="midpoint"><![CDATA[https://t.example/q2]]></Tracking>
       <Tracking event="thirdQuartile"><![CDATA[https://t.example/q3]]></Tracking>
       <Tracking event="complete"><![CDATA[https://t.example/q4]]></Tracking>
      </TrackingEvents>
      <MediaFiles>
       <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720" bitrate="500"><![CDATA[https://cdn.example/a.mp4]]></MediaFile>
      </MediaFiles>
     </Linear>
    </Creative>
   </Creatives>
  </InLine>
 </Ad>
</VAST>`, impressionURL)
}

func wrapperVAST(nextURL, impressionURL string) string {
	return fmt.Sprintf(`<VAST version="4.0">
 <Ad id="w">
  <Wrapper>
   <AdSystem>WrapServer</AdSystem>
   <VASTAdTagURI><![CDATA[%s]]></VASTAdTagURI>
   <Impression><![CDATA[%s]]></Impression>
  </Wrapper>
 </Ad>
</VAST>`, nextURL, impressionURL)
}

func xmlServer(t *testing.T, delay time.Duration, payload func() string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Write([]byte(payload()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Scenario A: single source success with auto-tracked impression.
func TestRequestSingleSourceSuccess(t *testing.T) {
	var impressions atomic.Int64
	trackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		impressions.Add(1)
	}))
	t.Cleanup(trackSrv.Close)

	var fallbackHits atomic.Int64
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
	}))
	t.Cleanup(fallback.Close)

	adSrv := xmlServer(t, 0, func() string { return inlineVAST(trackSrv.URL + "/i") })

	c, err := New(Config{
		Sources:   []string{adSrv.URL},
		Fallbacks: []string{fallback.URL},
		Strategy:  fetch.Strategy{Mode: fetch.Sequential, PerSourceTimeout: 2 * time.Second},
	})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
	assert.Equal(t, 30, res.Ad.Duration)
	assert.Equal(t, adSrv.URL, res.Source)
	assert.Empty(t, res.Errors)
	assert.EqualValues(t, 1, impressions.Load(), "exactly one auto-tracked impression")
	assert.EqualValues(t, 0, fallbackHits.Load(), "no fallback after success")
}

// Scenario B: parallel race across a valid fast source, a failing source
// and a slower valid source.
func TestRequestParallelRace(t *testing.T) {
	fast := xmlServer(t, 20*time.Millisecond, func() string { return inlineVAST("https://t.example/i") })
	slow := xmlServer(t, 250*time.Millisecond, func() string { return inlineVAST("https://t.example/i") })
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	c, err := New(Config{
		Sources:          []string{fast.URL, failing.URL, slow.URL},
		Strategy:         fetch.Strategy{Mode: fetch.Parallel, PerSourceTimeout: time.Second},
		DisableAutoTrack: true,
	})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
	assert.Equal(t, fast.URL, res.Source)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, vasterr.KindHTTPStatus, res.Errors[0].Kind)
	assert.Equal(t, failing.URL, res.Errors[0].Source)
}

// Scenario C: fallback cascade over a refused connection and invalid XML.
func TestRequestFallbackCascade(t *testing.T) {
	var impressions atomic.Int64
	trackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		impressions.Add(1)
	}))
	t.Cleanup(trackSrv.Close)

	refused := httptest.NewServer(http.HandlerFunc(nil))
	refusedURL := refused.URL
	refused.Close() // connection refused from now on

	badXML := xmlServer(t, 0, func() string { return "this is not xml <" })
	good := xmlServer(t, 0, func() string { return inlineVAST(trackSrv.URL + "/i") })

	c, err := New(Config{
		Sources:   []string{refusedURL},
		Fallbacks: []string{badXML.URL, good.URL},
		Strategy:  fetch.Strategy{Mode: fetch.Sequential, PerSourceTimeout: time.Second},
		Parser:    parse.Config{Strict: true},
	})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
	assert.Equal(t, good.URL, res.Source)
	assert.EqualValues(t, 1, impressions.Load())

	require.Len(t, res.Errors, 2)
	assert.Equal(t, vasterr.KindTransport, res.Errors[0].Kind)
	assert.Equal(t, refusedURL, res.Errors[0].Source)
	assert.Equal(t, vasterr.KindInvalidXML, res.Errors[1].Kind)
	assert.Equal(t, vasterr.PhaseParse, res.Errors[1].Phase)
}

// Scenario D: wrapper chain resolves to the inline ad with merged
// impressions in wrapper-first order.
func TestRequestWrapperResolution(t *testing.T) {
	var w1Hits, inlineHits atomic.Int64

	inlineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inlineHits.Add(1)
		w.Write([]byte(inlineVAST("https://t.example/inline-i")))
	}))
	t.Cleanup(inlineSrv.Close)

	w1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w1Hits.Add(1)
		w.Write([]byte(wrapperVAST(inlineSrv.URL, "https://t.example/w1-i")))
	}))
	t.Cleanup(w1.Close)

	top := xmlServer(t, 0, func() string { return wrapperVAST(w1.URL, "https://t.example/w-i") })

	c, err := New(Config{
		Sources:          []string{top.URL},
		DisableAutoTrack: true,
	})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
	assert.False(t, res.Ad.WrapperResolutionFailed)
	assert.Equal(t, []string{
		"https://t.example/w-i",
		"https://t.example/w1-i",
		"https://t.example/inline-i",
	}, res.Ad.Impressions)
	assert.EqualValues(t, 1, w1Hits.Load())
	assert.EqualValues(t, 1, inlineHits.Load())
	assert.Equal(t, 30, res.Ad.Duration)
}

func TestRequestWrapperDepthExceeded(t *testing.T) {
	var loop *httptest.Server
	loop = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(wrapperVAST(loop.URL, "https://t.example/loop-i")))
	}))
	t.Cleanup(loop.Close)

	c, err := New(Config{
		Sources:           []string{loop.URL},
		WrapperDepthLimit: 2,
		DisableAutoTrack:  true,
	})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
	assert.True(t, res.Ad.WrapperResolutionFailed)

	var found bool
	for _, rec := range res.Errors {
		if rec.Kind == vasterr.KindWrapperDepthExceeded {
			found = true
		}
	}
	assert.True(t, found, "expected a wrapper-depth-exceeded record")
}

// Scenario E: the parse filter rejects the only media file.
func TestRequestFilterRejects(t *testing.T) {
	var impressions atomic.Int64
	trackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		impressions.Add(1)
	}))
	t.Cleanup(trackSrv.Close)

	adSrv := xmlServer(t, 0, func() string { return inlineVAST(trackSrv.URL + "/i") })

	c, err := New(Config{
		Sources: []string{adSrv.URL},
		Filter:  &parse.Filter{MinBitrate: 1000},
	})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Ad)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, vasterr.KindFilterRejected, res.Errors[0].Kind)
	assert.Equal(t, vasterr.PhaseSelect, res.Errors[0].Phase)
	assert.EqualValues(t, 0, impressions.Load(), "no impression on rejected ad")
}

func TestRequestAllNoContent(t *testing.T) {
	noAd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(noAd.Close)

	c, err := New(Config{Sources: []string{noAd.URL}, Fallbacks: []string{noAd.URL}})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Ad)
	require.Len(t, res.Errors, 2)
	for _, rec := range res.Errors {
		assert.Equal(t, vasterr.KindNoContent, rec.Kind)
	}
}

func TestRequestWithFallbackOverride(t *testing.T) {
	good := xmlServer(t, 0, func() string { return inlineVAST("https://t.example/i") })
	refused := httptest.NewServer(http.HandlerFunc(nil))
	refusedURL := refused.URL
	refused.Close()

	c, err := New(Config{Sources: []string{"https://unused.example"}, DisableAutoTrack: true})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.RequestWithFallback(context.Background(), refusedURL, []string{good.URL})
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
	assert.Equal(t, good.URL, res.Source)
}

func TestNewFromURL(t *testing.T) {
	c, err := NewFromURL("https://ads.example/vast")
	require.NoError(t, err)
	c.Close()

	_, err = NewFromURL("")
	require.Error(t, err)
}

func TestNewFromClientCloseKeepsClient(t *testing.T) {
	srv := xmlServer(t, 0, func() string { return inlineVAST("https://t.example/i") })

	c, err := NewFromClient(srv.Client(), Config{Sources: []string{srv.URL}, DisableAutoTrack: true})
	require.NoError(t, err)
	c.Close() // no-op: the pool is not ours

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Ad)
}

func TestRequestNoSources(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Request(context.Background())
	require.Error(t, err)
}

func TestResultTrackerReady(t *testing.T) {
	var hits atomic.Int64
	trackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(trackSrv.Close)

	adSrv := xmlServer(t, 0, func() string { return inlineVAST(trackSrv.URL + "/i") })

	c, err := New(Config{Sources: []string{adSrv.URL}, DisableAutoTrack: true})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Tracker)

	// Auto-track was off, so the impression fires on demand exactly once.
	out := res.Tracker.Track(context.Background(), "impression", nil)
	assert.Equal(t, 1, out.Succeeded)
	res.Tracker.Track(context.Background(), "impression", nil)
	assert.EqualValues(t, 1, hits.Load())
}
