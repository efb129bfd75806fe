// Package descriptor computes and memoizes content hashes ("descriptors") of
// agent definitions (the prompt text and the resolved toolset) so external
// auditing and versioning consumers can detect drift between deployments.
// Descriptors are derived lazily on demand, cached per agent name, shared as
// one in-flight computation between concurrent requesters, and invalidated
// when the agent's source is re-registered.
package descriptor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Descriptor identifies an agent's effective version by content.
type Descriptor struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Version     string            `json:"version"`
	PromptHash  string            `json:"prompt_hash"`
	ToolsetHash string            `json:"toolset_hash"`
	GeneratedAt time.Time         `json:"generated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Source supplies the (possibly asynchronous) inputs of one agent's
// descriptor.
type Source interface {
	// Name returns the agent name the descriptor is cached under.
	Name() string

	// Type categorizes the agent implementation.
	Type() string

	// Version returns the declared version label.
	Version() string

	// Instructions returns the instruction text to hash.
	Instructions(ctx context.Context) (string, error)

	// ToolNames returns the resolved tool-name list to hash.
	ToolNames(ctx context.Context) ([]string, error)

	// Metadata returns optional metadata folded into the toolset hash.
	Metadata() map[string]string
}

// Options configure a Cache.
type Options struct {
	// UseFallbackHash switches to the weaker non-cryptographic hash. Only
	// meant for constrained builds where the cryptographic primitive is
	// unavailable.
	UseFallbackHash bool

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Cache memoizes descriptors per agent name. Registration executes as an
// atomic synchronous update; computation collapses concurrent requesters
// onto one in-flight call per name via singleflight.
type Cache struct {
	mu      sync.Mutex
	sources map[string]Source
	cached  map[string]*Descriptor
	group   singleflight.Group
	opts    Options
}

// NewCache constructs an empty Cache.
func NewCache(optFns ...func(o *Options)) *Cache {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Cache{sources: make(map[string]Source), cached: make(map[string]*Descriptor), opts: opts}
}

// RegisterSource registers (or replaces) a source and invalidates any cached
// descriptor for its name.
func (c *Cache) RegisterSource(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[s.Name()] = s
	delete(c.cached, s.Name())
	c.group.Forget(s.Name())
}

// HasDescriptor reports whether a source is registered under the name.
func (c *Cache) HasDescriptor(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sources[name]
	return ok
}

// GetDescriptor returns the descriptor for the named agent, computing and
// memoizing it on first use. Concurrent callers share one in-flight
// computation. Unknown names and computation failures yield nil; failures are
// logged and the entry evicted so the next call retries.
func (c *Cache) GetDescriptor(ctx context.Context, name string) *Descriptor {
	c.mu.Lock()
	if d, ok := c.cached[name]; ok {
		c.mu.Unlock()
		return d
	}
	source, ok := c.sources[name]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		d, err := c.compute(ctx, source)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached[name] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		c.opts.Logger.Error("descriptor.compute_failed", "agent", name, "error", err.Error())
		c.group.Forget(name)
		c.mu.Lock()
		delete(c.cached, name)
		c.mu.Unlock()
		return nil
	}

	return v.(*Descriptor)
}

// MustDescriptor is the throwing convenience variant of GetDescriptor.
func (c *Cache) MustDescriptor(ctx context.Context, name string) (*Descriptor, error) {
	c.mu.Lock()
	_, ok := c.sources[name]
	c.mu.Unlock()
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	if d := c.GetDescriptor(ctx, name); d != nil {
		return d, nil
	}
	return nil, &ComputeError{Name: name}
}

// ListDescriptors computes descriptors for all registered sources in
// parallel, silently omitting any that failed (each failure is logged by
// GetDescriptor). One source's failure never blocks the others. Results are
// sorted by name for determinism.
func (c *Cache) ListDescriptors(ctx context.Context) []*Descriptor {
	c.mu.Lock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	c.mu.Unlock()

	results := make([]*Descriptor, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = c.GetDescriptor(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Descriptor, 0, len(results))
	for _, d := range results {
		if d != nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Clear removes all sources and cached descriptors.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.sources {
		c.group.Forget(name)
	}
	c.sources = make(map[string]Source)
	c.cached = make(map[string]*Descriptor)
}

func (c *Cache) hashText(text string) string {
	if c.opts.UseFallbackHash {
		return FallbackHash(text)
	}
	return HashText(text)
}

func (c *Cache) compute(ctx context.Context, source Source) (*Descriptor, error) {
	instructions, err := source.Instructions(ctx)
	if err != nil {
		return nil, err
	}
	toolNames, err := source.ToolNames(ctx)
	if err != nil {
		return nil, err
	}
	toolsetHash, err := HashToolset(toolNames, source.Metadata())
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		Name:        source.Name(),
		Type:        source.Type(),
		Version:     source.Version(),
		PromptHash:  c.hashText(instructions),
		ToolsetHash: toolsetHash,
		GeneratedAt: time.Now().UTC(),
		Metadata:    source.Metadata(),
	}, nil
}

// NotRegisteredError reports a MustDescriptor call for an unknown name.
type NotRegisteredError struct{ Name string }

func (e *NotRegisteredError) Error() string {
	return "no descriptor source registered for agent " + e.Name
}

// ComputeError reports a MustDescriptor call whose computation failed; the
// underlying cause was logged by GetDescriptor.
type ComputeError struct{ Name string }

func (e *ComputeError) Error() string {
	return "descriptor computation failed for agent " + e.Name
}

// ConfigSource adapts a *core.AgentConfig into a Source. The declared tool
// names are hashed as-is; callers that want resolved public names can wrap
// the config with a custom source.
type ConfigSource struct {
	cfg *core.AgentConfig
}

// NewConfigSource wraps an agent config as a descriptor source.
func NewConfigSource(cfg *core.AgentConfig) *ConfigSource { return &ConfigSource{cfg: cfg} }

// Name implements Source.
func (s *ConfigSource) Name() string { return s.cfg.Name }

// Type implements Source.
func (s *ConfigSource) Type() string { return "agent" }

// Version implements Source.
func (s *ConfigSource) Version() string { return s.cfg.Version }

// Instructions implements Source.
func (s *ConfigSource) Instructions(context.Context) (string, error) {
	return s.cfg.Instructions, nil
}

// ToolNames implements Source.
func (s *ConfigSource) ToolNames(context.Context) ([]string, error) {
	return s.cfg.ToolNames, nil
}

// Metadata implements Source.
func (s *ConfigSource) Metadata() map[string]string { return s.cfg.Metadata }
