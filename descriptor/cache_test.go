package descriptor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

type stubSource struct {
	name         string
	instructions string
	toolNames    []string
	metadata     map[string]string
	err          error
	delay        time.Duration
	computes     atomic.Int32
}

func (s *stubSource) Name() string                { return s.name }
func (s *stubSource) Type() string                { return "agent" }
func (s *stubSource) Version() string             { return "1.0.0" }
func (s *stubSource) Metadata() map[string]string { return s.metadata }

func (s *stubSource) Instructions(context.Context) (string, error) {
	s.computes.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", s.err
	}
	return s.instructions, nil
}

func (s *stubSource) ToolNames(context.Context) ([]string, error) {
	return s.toolNames, nil
}

func TestCacheGetDescriptor(t *testing.T) {
	t.Run("computes and memoizes", func(t *testing.T) {
		cache := NewCache()
		src := &stubSource{name: "researcher", instructions: "Research things.", toolNames: []string{"search"}}
		cache.RegisterSource(src)

		d1 := cache.GetDescriptor(context.Background(), "researcher")
		require.NotNil(t, d1)
		assert.Equal(t, "researcher", d1.Name)
		assert.Equal(t, "agent", d1.Type)
		assert.Equal(t, "1.0.0", d1.Version)
		assert.Equal(t, HashText("Research things."), d1.PromptHash)
		assert.False(t, d1.GeneratedAt.IsZero())

		d2 := cache.GetDescriptor(context.Background(), "researcher")
		assert.Same(t, d1, d2)
		assert.Equal(t, int32(1), src.computes.Load())
	})

	t.Run("unknown name yields nil", func(t *testing.T) {
		cache := NewCache()
		assert.Nil(t, cache.GetDescriptor(context.Background(), "ghost"))
	})

	t.Run("concurrent requesters share one computation", func(t *testing.T) {
		cache := NewCache()
		src := &stubSource{name: "slow", instructions: "x", delay: 30 * time.Millisecond}
		cache.RegisterSource(src)

		var wg sync.WaitGroup
		results := make([]*Descriptor, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = cache.GetDescriptor(context.Background(), "slow")
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), src.computes.Load())
		for _, d := range results {
			require.NotNil(t, d)
			assert.Same(t, results[0], d)
		}
	})

	t.Run("failure yields nil and retries next call", func(t *testing.T) {
		cache := NewCache()
		src := &stubSource{name: "flaky", err: errors.New("prompt fetch failed")}
		cache.RegisterSource(src)

		assert.Nil(t, cache.GetDescriptor(context.Background(), "flaky"))

		src.err = nil
		src.instructions = "recovered"
		d := cache.GetDescriptor(context.Background(), "flaky")
		require.NotNil(t, d)
		assert.Equal(t, HashText("recovered"), d.PromptHash)
	})

	t.Run("re-registration invalidates", func(t *testing.T) {
		cache := NewCache()
		cache.RegisterSource(&stubSource{name: "a", instructions: "v1"})
		d1 := cache.GetDescriptor(context.Background(), "a")
		require.NotNil(t, d1)

		cache.RegisterSource(&stubSource{name: "a", instructions: "v2"})
		d2 := cache.GetDescriptor(context.Background(), "a")
		require.NotNil(t, d2)
		assert.NotEqual(t, d1.PromptHash, d2.PromptHash)
	})
}

func TestCacheMustDescriptor(t *testing.T) {
	cache := NewCache()

	_, err := cache.MustDescriptor(context.Background(), "ghost")
	var notRegistered *NotRegisteredError
	require.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, "ghost", notRegistered.Name)

	cache.RegisterSource(&stubSource{name: "broken", err: errors.New("boom")})
	_, err = cache.MustDescriptor(context.Background(), "broken")
	var computeErr *ComputeError
	require.ErrorAs(t, err, &computeErr)

	cache.RegisterSource(&stubSource{name: "ok", instructions: "fine"})
	d, err := cache.MustDescriptor(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", d.Name)
}

func TestCacheListDescriptors(t *testing.T) {
	cache := NewCache()
	cache.RegisterSource(&stubSource{name: "zeta", instructions: "z"})
	cache.RegisterSource(&stubSource{name: "alpha", instructions: "a"})
	cache.RegisterSource(&stubSource{name: "broken", err: errors.New("boom")})

	list := cache.ListDescriptors(context.Background())
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestCacheClear(t *testing.T) {
	cache := NewCache()
	cache.RegisterSource(&stubSource{name: "a", instructions: "x"})
	require.True(t, cache.HasDescriptor("a"))

	cache.Clear()
	assert.False(t, cache.HasDescriptor("a"))
	assert.Nil(t, cache.GetDescriptor(context.Background(), "a"))
	assert.Empty(t, cache.ListDescriptors(context.Background()))
}

func TestCacheFallbackHashOption(t *testing.T) {
	cache := NewCache(func(o *Options) { o.UseFallbackHash = true })
	cache.RegisterSource(&stubSource{name: "a", instructions: "A"})

	d := cache.GetDescriptor(context.Background(), "a")
	require.NotNil(t, d)
	assert.Equal(t, FallbackHash("A"), d.PromptHash)
}

func TestConfigSource(t *testing.T) {
	cfg := &core.AgentConfig{
		Name:         "writer",
		Version:      "2.1.0",
		Instructions: "Write prose.",
		ToolNames:    []string{"create_file", "read_file"},
		Metadata:     map[string]string{"team": "docs"},
	}
	src := NewConfigSource(cfg)

	assert.Equal(t, "writer", src.Name())
	assert.Equal(t, "agent", src.Type())
	assert.Equal(t, "2.1.0", src.Version())

	instructions, err := src.Instructions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Write prose.", instructions)

	names, err := src.ToolNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"create_file", "read_file"}, names)
	assert.Equal(t, map[string]string{"team": "docs"}, src.Metadata())
}
