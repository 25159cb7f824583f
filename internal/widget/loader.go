// Package widget bridges the hosted payment widget: script availability,
// checkout options, and the lifecycle of one payment interaction.
package widget

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const defaultProbeTimeout = 8 * time.Second

// ErrScriptUnavailable is returned when the widget script cannot be reached.
var ErrScriptUnavailable = errors.New("widget: script unavailable")

// Loader verifies that the hosted widget script is reachable. The probe runs
// at most once per process while it succeeds; concurrent callers share a
// single in-flight attempt, and a failed attempt may be retried later.
type Loader struct {
	scriptURL string
	http      *http.Client

	mu       sync.Mutex
	loaded   bool
	inflight chan struct{}
	lastErr  error
}

// NewLoader constructs a loader probing scriptURL.
func NewLoader(scriptURL string, client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	return &Loader{
		scriptURL: scriptURL,
		http:      client,
	}
}

// EnsureLoaded blocks until the script has been verified reachable, joining an
// in-flight probe when one exists. A successful probe is never repeated.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.loaded {
			l.mu.Unlock()
			return nil
		}
		if l.inflight == nil {
			done := make(chan struct{})
			l.inflight = done
			l.mu.Unlock()

			err := l.probe(ctx)

			l.mu.Lock()
			l.loaded = err == nil
			l.lastErr = err
			l.inflight = nil
			close(done)
			l.mu.Unlock()
			return err
		}

		wait := l.inflight
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}

		l.mu.Lock()
		loaded, lastErr := l.loaded, l.lastErr
		l.mu.Unlock()
		if loaded {
			return nil
		}
		if lastErr != nil {
			return lastErr
		}
		// The attempt we joined lost a race with a reset; retry.
	}
}

// Loaded reports whether a probe has already succeeded.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *Loader) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, l.scriptURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptUnavailable, err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrScriptUnavailable, resp.StatusCode)
	}
	return nil
}
