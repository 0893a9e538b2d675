package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRenderGaugeTracksInflight(t *testing.T) {
	start := testutil.ToFloat64(renderInflight)

	RenderStarted(10 * time.Millisecond)
	RenderStarted(0)
	require.Equal(t, start+2, testutil.ToFloat64(renderInflight))

	RenderFinished("success", 100*time.Millisecond)
	RenderFinished("timeout", time.Second)
	require.Equal(t, start, testutil.ToFloat64(renderInflight))
	require.Equal(t, 1.0, testutil.ToFloat64(rendersTotal.WithLabelValues("timeout")))
}

func TestRenderSeriesIndependentOfHost(t *testing.T) {
	for i := 0; i < 50; i++ {
		RenderStarted(0)
		RenderFinished("success", time.Millisecond)
		ObserveRateLimitDelay(time.Millisecond)
	}
	// One series per result value, however many hosts were rendered.
	require.LessOrEqual(t, testutil.CollectAndCount(rendersTotal), 5)
	require.Equal(t, 1, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func TestCacheAndPreloadCollectors(t *testing.T) {
	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues(CacheStale))
	ObserveCacheLookup(CacheStale)
	require.Equal(t, before+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues(CacheStale)))

	SetCacheEntries(7)
	require.Equal(t, 7.0, testutil.ToFloat64(cacheEntries))

	SetPreloadURLs(3)
	require.Equal(t, 3.0, testutil.ToFloat64(preloadURLs))

	failedBefore := testutil.ToFloat64(preloadRefreshTotal.WithLabelValues("failure"))
	ObservePreloadRefresh("failure")
	require.Equal(t, failedBefore+1, testutil.ToFloat64(preloadRefreshTotal.WithLabelValues("failure")))
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/scrape", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	r.Get("/preload/list", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/scrape", "/preload/list"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	require.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "400")))
	require.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
