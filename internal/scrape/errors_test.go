package scrape

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorUnwrapsRenderError(t *testing.T) {
	t.Parallel()

	renderErr := &RenderError{Kind: RenderTimeout, URL: "https://x.com", Err: context.DeadlineExceeded}
	err := fmt.Errorf("wrapped: %w", &FetchError{Kind: FetchRenderFailed, URL: "https://x.com", Err: renderErr})

	kind, ok := RenderKind(err)
	require.True(t, ok)
	require.Equal(t, RenderTimeout, kind)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.False(t, IsInvalidInput(err))
	require.Contains(t, err.Error(), "timeout")
}

func TestIsInvalidInput(t *testing.T) {
	t.Parallel()

	require.True(t, IsInvalidInput(&FetchError{Kind: FetchInvalidInput, URL: "ftp://bad"}))
	require.True(t, IsInvalidInput(&RenderError{Kind: RenderInvalidURL, URL: "ftp://bad"}))
	require.False(t, IsInvalidInput(errors.New("boom")))

	_, ok := RenderKind(errors.New("boom"))
	require.False(t, ok)
}
