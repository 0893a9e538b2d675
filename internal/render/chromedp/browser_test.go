package chromedp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/scrape"
)

func TestDocumentMeta_KeepsLastDocumentStatus(t *testing.T) {
	t.Parallel()

	meta := &documentMeta{}
	require.Zero(t, meta.status())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	meta.captureEvent("unrelated event")
	require.Equal(t, 200, meta.status())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	})
	require.Equal(t, 404, meta.status())
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	require.Eventually(t, func() bool { return child.Err() != nil }, time.Second, 5*time.Millisecond)
}

func TestForwardCancel_StopDetaches(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	stop()
	cancelParent()

	require.Never(t, func() bool { return child.Err() != nil }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	var err error = &StatusError{URL: "https://example.com", Status: 503}
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, "document https://example.com returned status 503", err.Error())
	require.NotErrorIs(t, err, scrape.ErrEngineUnavailable)
}

func launchOrSkip(t *testing.T) *Browser {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping headless browser test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	browser, err := Launch(ctx, Config{UserAgent: "TestAgent", Settle: 50 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })
	return browser
}

func TestBrowser_RendersScriptContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<div id="late">late content</div>';</script></body></html>`)
	}))
	defer srv.Close()

	browser := launchOrSkip(t)
	require.True(t, browser.Alive())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	html, err := browser.Render(ctx, srv.URL)
	require.NoError(t, err)
	require.Contains(t, html, "late content")
}

func TestBrowser_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><body>missing</body></html>`)
	}))
	defer srv.Close()

	browser := launchOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := browser.Render(ctx, srv.URL)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestBrowser_ClosedIsUnavailable(t *testing.T) {
	browser := launchOrSkip(t)

	require.NoError(t, browser.Close())
	require.NoError(t, browser.Close())
	require.False(t, browser.Alive())

	_, err := browser.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, scrape.ErrEngineUnavailable)
}
