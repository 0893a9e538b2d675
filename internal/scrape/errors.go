package scrape

import (
	"errors"
	"fmt"
)

// ErrEngineUnavailable marks failures of the shared rendering resource itself,
// as opposed to a single page failing.
var ErrEngineUnavailable = errors.New("render engine unavailable")

// RenderErrorKind classifies render failures.
type RenderErrorKind string

// Render failure kinds surfaced by the gateway.
const (
	RenderInvalidURL    RenderErrorKind = "invalid_url"
	RenderTimeout       RenderErrorKind = "timeout"
	RenderEngineFailure RenderErrorKind = "engine_failure"
	RenderCanceled      RenderErrorKind = "canceled"
)

// RenderError is returned by the render gateway.
type RenderError struct {
	Kind RenderErrorKind
	URL  string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("render %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("render %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds surfaced by the coordinator and the preload manager.
const (
	FetchInvalidInput FetchErrorKind = "invalid_input"
	FetchRenderFailed FetchErrorKind = "render_failed"
)

// FetchError is returned by the fetch coordinator. RenderFailed errors unwrap
// to the underlying *RenderError.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsInvalidInput reports whether err is a client input error.
func IsInvalidInput(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind == FetchInvalidInput {
		return true
	}
	var renderErr *RenderError
	return errors.As(err, &renderErr) && renderErr.Kind == RenderInvalidURL
}

// RenderKind extracts the render failure kind from err, if any.
func RenderKind(err error) (RenderErrorKind, bool) {
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr.Kind, true
	}
	return "", false
}
