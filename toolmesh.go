// Package toolmesh provides a high-level façade over the orchestration
// substrate: name resolution, the tool registry, descriptor hashing, the
// session file store, the progress bus and the execution engine. Most
// applications interact with this package by:
//  1. Creating a Toolmesh via New() with a model implementation
//  2. Registering tools (static factories or dynamic providers) and agents
//  3. Running agents synchronously via Run and observing progress events
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a structured logger and a
// durable file-store location.
package toolmesh

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/descriptor"
	"github.com/hupe1980/toolmesh/engine"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/naming"
	"github.com/hupe1980/toolmesh/progress"
	"github.com/hupe1980/toolmesh/tool"
)

// Options configure a Toolmesh instance.
type Options struct {
	// Logger defaults to NoOpLogger.
	Logger logging.Logger

	// EventBufferSize sets the per-subscriber buffer of the progress bus.
	EventBufferSize int

	// RegisterFileTools controls whether the built-in session file tools
	// (create_file, read_file, ...) are registered. Defaults to true.
	RegisterFileTools bool

	// DisableFileStore skips per-session file stores entirely.
	DisableFileStore bool

	// FileStoreDSN overrides the per-session storage location; a %s
	// placeholder is replaced with the session ID.
	FileStoreDSN string
}

// Toolmesh aggregates the substrate components behind one handle.
type Toolmesh struct {
	resolver    *naming.Resolver
	registry    *tool.Registry
	bus         *progress.Bus
	descriptors *descriptor.Cache
	engine      *engine.Engine
	opts        Options
}

// New wires resolver, registry, bus, descriptor cache and engine around the
// given model.
func New(m model.Model, optFns ...func(o *Options)) (*Toolmesh, error) {
	opts := Options{Logger: logging.NoOpLogger{}, RegisterFileTools: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	resolver := naming.NewResolver()
	registry := tool.NewRegistry(resolver, func(o *tool.RegistryOptions) {
		o.Logger = opts.Logger
	})
	bus := progress.NewBus(func(o *progress.Options) {
		o.Logger = opts.Logger
		if opts.EventBufferSize > 0 {
			o.BufferSize = opts.EventBufferSize
		}
	})
	descriptors := descriptor.NewCache(func(o *descriptor.Options) {
		o.Logger = opts.Logger
	})

	if opts.RegisterFileTools {
		if err := tool.RegisterFileTools(registry); err != nil {
			return nil, err
		}
	}

	eng := engine.New(m, registry, func(o *engine.Options) {
		o.Logger = opts.Logger
		o.Bus = bus
		o.Descriptors = descriptors
		o.DisableFileStore = opts.DisableFileStore
		o.FileStoreDSN = opts.FileStoreDSN
	})

	return &Toolmesh{
		resolver:    resolver,
		registry:    registry,
		bus:         bus,
		descriptors: descriptors,
		engine:      eng,
		opts:        opts,
	}, nil
}

// Registry returns the tool registry for direct bindings (static factories or
// provider discovery).
func (t *Toolmesh) Registry() *tool.Registry { return t.registry }

// Resolver returns the name resolver shared with the registry.
func (t *Toolmesh) Resolver() *naming.Resolver { return t.resolver }

// Descriptors returns the descriptor cache fed by agent registrations.
func (t *Toolmesh) Descriptors() *descriptor.Cache { return t.descriptors }

// Engine returns the underlying execution engine.
func (t *Toolmesh) Engine() *engine.Engine { return t.engine }

// RegisterAgent registers an agent configuration.
func (t *Toolmesh) RegisterAgent(cfg *core.AgentConfig) error {
	return t.engine.RegisterAgent(cfg)
}

// RegisterTool binds a static tool under its own name.
func (t *Toolmesh) RegisterTool(tl tool.Tool) error {
	return t.registry.RegisterFactory(tl.Name(), func() tool.Tool { return tl })
}

// Run executes the named agent to a terminal status.
func (t *Toolmesh) Run(ctx context.Context, agentName string, args map[string]any, capability any) (*core.Session, error) {
	return t.engine.Run(ctx, agentName, args, capability)
}

// Subscribe attaches a progress event consumer; with no types it receives
// everything.
func (t *Toolmesh) Subscribe(types ...progress.EventType) *progress.Subscription {
	return t.bus.Subscribe(types...)
}

// Close shuts down the progress bus. Engine runs in flight keep their
// sessions but lose event delivery.
func (t *Toolmesh) Close() {
	t.bus.Close()
}
