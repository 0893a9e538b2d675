package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/config"
	"github.com/JakeFAU/pagerender/internal/publisher/memory"
	"github.com/JakeFAU/pagerender/internal/scrape"
)

type countingEngine struct {
	renders atomic.Int32
}

func (e *countingEngine) Render(_ context.Context, url string) (string, error) {
	e.renders.Add(1)
	return "<html>" + url + "</html>", nil
}

func (e *countingEngine) Alive() bool { return true }

func (e *countingEngine) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0, RequestTimeoutSeconds: 5, ShutdownTimeoutSeconds: 1},
		Render:  config.RenderConfig{ConcurrencyLimit: 2, NavTimeoutSeconds: 5},
		Cache:   config.CacheConfig{TTLSeconds: 3600},
		Preload: config.PreloadConfig{RefreshIntervalSeconds: 3000, Parallelism: 2},
		PubSub:  config.PubSubConfig{TopicName: "page-refreshed"},
	}
}

func buildTestApp(t *testing.T, cfg *config.Config, pub *memory.Publisher) (*App, *countingEngine) {
	t.Helper()
	engine := &countingEngine{}
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithEngineFactory(func(context.Context) (scrape.Engine, error) { return engine, nil }),
		WithPublisher(pub),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app, engine
}

func TestBuild_ServesScrapeThroughCache(t *testing.T) {
	t.Parallel()

	app, engine := buildTestApp(t, testConfig(), memory.New())
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/scrape?url=https://example.com")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}
	require.EqualValues(t, 1, engine.renders.Load())

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestBuild_RejectsInvalidPreloadSeed(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Preload.URLs = []string{"ftp://bad"}
	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithEngineFactory(func(context.Context) (scrape.Engine, error) { return &countingEngine{}, nil }),
		WithPublisher(memory.New()),
	)
	require.Error(t, err)
}

func TestRun_WarmsPreloadAndShutsDown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Preload.URLs = []string{"https://a.com", "https://b.com"}
	cfg.Preload.WarmOnStart = true
	pub := memory.New()
	app, engine := buildTestApp(t, cfg, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 2, engine.renders.Load())
	require.True(t, app.Gateway().Ready())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
