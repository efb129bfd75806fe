package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/toolmesh/core"
)

// ErrWaitTimeout is returned when a wait's hard deadline elapses before the
// observed session turns terminal. It is distinct from context cancellation
// so callers can tell "the caller gave up" from "the wait budget ran out".
var ErrWaitTimeout = errors.New("timed out waiting for session to finish")

// WaitOptions configure WaitForSession.
type WaitOptions struct {
	// Interval is the fixed polling interval. Defaults to 100ms.
	Interval time.Duration

	// Timeout is the hard deadline for the whole wait. Defaults to 1 minute.
	Timeout time.Duration
}

// WaitForSession polls a session at a fixed interval until it reaches a
// terminal status, the hard deadline elapses (ErrWaitTimeout), or ctx is
// cancelled. Intended for observers that hold only a session ID, such as a
// status display on the progress bus noticing a missed terminal event.
func (e *Engine) WaitForSession(ctx context.Context, sessionID string, optFns ...func(o *WaitOptions)) (*core.Session, error) {
	opts := WaitOptions{Interval: 100 * time.Millisecond, Timeout: time.Minute}
	for _, fn := range optFns {
		fn(&opts)
	}

	sess, ok := e.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	if sess.IsTerminal() {
		return sess, nil
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sess, ctx.Err()
		case <-deadline.C:
			return sess, ErrWaitTimeout
		case <-ticker.C:
			if sess.IsTerminal() {
				return sess, nil
			}
		}
	}
}
