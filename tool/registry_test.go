package tool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/naming"
)

func constantTool(name, reply string) Tool {
	return NewFunctionTool(name, "Returns a constant.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return reply, nil
		},
	)
}

type warnRecorder struct {
	logging.NoOpLogger
	mu    sync.Mutex
	warns []string
}

func (w *warnRecorder) Warn(msg string, _ ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warns = append(w.warns, msg)
}

func (w *warnRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.warns)
}

func TestRegisterFactory(t *testing.T) {
	t.Run("registers and gets", func(t *testing.T) {
		r := NewRegistry(naming.NewResolver())
		require.NoError(t, r.RegisterFactory("greet", func() Tool { return constantTool("greet", "hi") }))

		got := r.Get("greet")
		require.NotNil(t, got)
		assert.Equal(t, "greet", got.Name())
		assert.Nil(t, r.Get("missing"))
	})

	t.Run("overwrite warns and last write wins", func(t *testing.T) {
		warns := &warnRecorder{}
		r := NewRegistry(naming.NewResolver(), func(o *RegistryOptions) { o.Logger = warns })

		require.NoError(t, r.RegisterFactory("greet", func() Tool { return constantTool("greet", "old") }))
		require.NoError(t, r.RegisterFactory("greet", func() Tool { return constantTool("greet", "new") }))
		assert.Equal(t, 1, warns.count())

		got := r.Get("greet")
		reply, err := got.Call(core.NewToolContext(nil, "s", "a", "c", nil, nil, nil), map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "new", reply)
	})

	t.Run("shape validation fails fast", func(t *testing.T) {
		r := NewRegistry(naming.NewResolver())

		assert.Error(t, r.RegisterFactory("", func() Tool { return constantTool("x", "y") }))
		assert.Error(t, r.RegisterFactory("x", nil))
		assert.Error(t, r.RegisterFactory("x", func() Tool { return nil }))
		assert.Error(t, r.RegisterFactory("x", func() Tool { return constantTool("", "y") }))
		assert.Error(t, r.RegisterFactory("x", func() Tool {
			return NewFunctionTool("x", "nil schema", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
				return nil, nil
			})
		}))
	})
}

func TestBindProviderTool(t *testing.T) {
	t.Run("first binding gets the bare name", func(t *testing.T) {
		r := NewRegistry(naming.NewResolver())

		public, err := r.BindProviderTool("mcp", "srv-1", "search", func() Tool { return constantTool("search", "a") })
		require.NoError(t, err)
		assert.Equal(t, "search", public)

		origin, ok := r.OriginOf("search")
		require.True(t, ok)
		assert.Equal(t, "mcp:srv-1:search", origin)
	})

	t.Run("colliding names get numeric suffixes", func(t *testing.T) {
		r := NewRegistry(naming.NewResolver())

		p1, err := r.BindProviderTool("mcp", "srv-1", "search", func() Tool { return constantTool("search", "one") })
		require.NoError(t, err)
		p2, err := r.BindProviderTool("mcp", "srv-2", "search", func() Tool { return constantTool("search", "two") })
		require.NoError(t, err)
		p3, err := r.BindProviderTool("http", "api", "search", func() Tool { return constantTool("search", "three") })
		require.NoError(t, err)

		assert.Equal(t, "search", p1)
		assert.Equal(t, "search_2", p2)
		assert.Equal(t, "search_3", p3)

		// Each public name resolves back to its own origin.
		o2, _ := r.OriginOf("search_2")
		assert.Equal(t, "mcp:srv-2:search", o2)
		o3, _ := r.OriginOf("search_3")
		assert.Equal(t, "http:api:search", o3)
	})

	t.Run("rebinding the same origin keeps the public name", func(t *testing.T) {
		warns := &warnRecorder{}
		r := NewRegistry(naming.NewResolver(), func(o *RegistryOptions) { o.Logger = warns })

		p1, err := r.BindProviderTool("mcp", "srv", "search", func() Tool { return constantTool("search", "v1") })
		require.NoError(t, err)
		p2, err := r.BindProviderTool("mcp", "srv", "search", func() Tool { return constantTool("search", "v2") })
		require.NoError(t, err)

		assert.Equal(t, p1, p2)
		assert.Equal(t, 1, warns.count())

		got := r.Get(p1)
		reply, err := got.Call(core.NewToolContext(nil, "s", "a", "c", nil, nil, nil), map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "v2", reply)
	})

	t.Run("concurrent bindings never lose registrations", func(t *testing.T) {
		r := NewRegistry(naming.NewResolver())

		var wg sync.WaitGroup
		publics := make([]string, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				serverID := string(rune('a' + i))
				public, err := r.BindProviderTool("mcp", serverID, "search", func() Tool { return constantTool("search", serverID) })
				assert.NoError(t, err)
				publics[i] = public
			}(i)
		}
		wg.Wait()

		seen := make(map[string]bool, len(publics))
		for _, p := range publics {
			assert.False(t, seen[p], "public name %q assigned twice", p)
			seen[p] = true
		}
	})
}

func TestResolve(t *testing.T) {
	r := NewRegistry(naming.NewResolver())
	_, err := r.BindProviderTool("mcp", "mcp-lusl1248if", "search", func() Tool { return constantTool("search", "a") })
	require.NoError(t, err)

	t.Run("by public name", func(t *testing.T) {
		got, public, ok := r.Resolve("search")
		require.True(t, ok)
		assert.Equal(t, "search", public)
		assert.Equal(t, "search", got.Name())
	})

	t.Run("by sanitized originating identifier", func(t *testing.T) {
		got, public, ok := r.Resolve("mcp_mcp-lusl1248if_search")
		require.True(t, ok)
		assert.Equal(t, "search", public)
		assert.NotNil(t, got)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, _, ok := r.Resolve("nothing")
		assert.False(t, ok)
	})
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry(naming.NewResolver())
	require.NoError(t, r.RegisterFactory("greet", func() Tool { return constantTool("greet", "hi") }))

	r.Clear()
	assert.Nil(t, r.Get("greet"))
	_, _, ok := r.Resolve("greet")
	assert.False(t, ok)
}
