package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/naming"
	"github.com/hupe1980/toolmesh/progress"
	"github.com/hupe1980/toolmesh/tool"
)

func slowModel() *model.MockModel {
	return model.NewMockModel().Script(
		&model.Decision{ToolCall: &model.ToolCall{Name: "sleeper"}},
		finalAnswer(map[string]any{"ok": true}),
	)
}

func newSleeperEngine(t *testing.T, m model.Model, delay time.Duration) *Engine {
	t.Helper()
	r := tool.NewRegistry(naming.NewResolver())
	sleeper := tool.NewFunctionTool(
		"sleeper", "Sleeps for a while.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			select {
			case <-time.After(delay):
				return map[string]any{}, nil
			case <-tc.Context().Done():
				return nil, tc.Context().Err()
			}
		},
	)
	require.NoError(t, r.RegisterFactory("sleeper", func() tool.Tool { return sleeper }))
	return New(m, r, func(o *Options) { o.DisableFileStore = true })
}

func startRun(t *testing.T, e *Engine, agent string) (sessionID string, done chan struct{}) {
	t.Helper()
	sub := e.Bus().Subscribe(progress.SessionStarted)
	defer sub.Cancel()

	done = make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Run(context.Background(), agent, nil, nil)
	}()

	select {
	case ev := <-sub.C:
		return ev.SessionID, done
	case <-time.After(time.Second):
		t.Fatal("run never started")
		return "", nil
	}
}

func TestWaitForSession(t *testing.T) {
	t.Run("returns once terminal", func(t *testing.T) {
		e := newSleeperEngine(t, slowModel(), 50*time.Millisecond)
		require.NoError(t, e.RegisterAgent(&core.AgentConfig{Name: "napper", ToolNames: []string{"sleeper"}}))

		sessionID, done := startRun(t, e, "napper")
		sess, err := e.WaitForSession(context.Background(), sessionID, func(o *WaitOptions) {
			o.Interval = 10 * time.Millisecond
			o.Timeout = 5 * time.Second
		})
		require.NoError(t, err)
		assert.True(t, sess.IsTerminal())
		<-done
	})

	t.Run("already terminal returns immediately", func(t *testing.T) {
		m := model.NewMockModel().Script(finalAnswer(map[string]any{"ok": true}))
		e := newTestEngine(t, m)
		require.NoError(t, e.RegisterAgent(&core.AgentConfig{Name: "quick"}))

		sess, err := e.Run(context.Background(), "quick", nil, nil)
		require.NoError(t, err)

		got, err := e.WaitForSession(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.Same(t, sess, got)
	})

	t.Run("hard deadline yields the dedicated error", func(t *testing.T) {
		e := newSleeperEngine(t, slowModel(), time.Second)
		require.NoError(t, e.RegisterAgent(&core.AgentConfig{Name: "napper", ToolNames: []string{"sleeper"}}))

		sessionID, done := startRun(t, e, "napper")
		_, err := e.WaitForSession(context.Background(), sessionID, func(o *WaitOptions) {
			o.Interval = 10 * time.Millisecond
			o.Timeout = 50 * time.Millisecond
		})
		assert.ErrorIs(t, err, ErrWaitTimeout)
		<-done
	})

	t.Run("context cancellation", func(t *testing.T) {
		e := newSleeperEngine(t, slowModel(), time.Second)
		require.NoError(t, e.RegisterAgent(&core.AgentConfig{Name: "napper", ToolNames: []string{"sleeper"}}))

		sessionID, done := startRun(t, e, "napper")
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err := e.WaitForSession(ctx, sessionID, func(o *WaitOptions) {
			o.Interval = 10 * time.Millisecond
			o.Timeout = 5 * time.Second
		})
		assert.ErrorIs(t, err, context.Canceled)
		<-done
	})

	t.Run("unknown session errors", func(t *testing.T) {
		e := newTestEngine(t, model.NewMockModel())
		_, err := e.WaitForSession(context.Background(), "missing")
		assert.Error(t, err)
	})
}
