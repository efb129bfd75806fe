package tool

import (
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/naming"
)

// Factory produces a tool instance. Registries bind factories rather than
// instances so providers can construct per-call tools (carrying connections,
// timeouts) lazily.
type Factory func() Tool

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry is the process-wide mapping from a public tool name to its
// factory, shared across concurrent sessions. All mutations execute as atomic
// synchronous updates under one mutex: there is no suspension between a
// duplicate check and the corresponding write, so concurrently starting
// sessions cannot lose registrations.
//
// Public naming: the first registrant for a logical name gets the bare name;
// later registrants for the same logical name get a numeric-suffixed variant
// (name_2, name_3, ...) chosen by probing increasing suffixes until free.
// Each provider binding also records, via the NameResolver, the mapping from
// the fully namespaced originating identifier
// ("<providerKind>:<providerId>:<toolName>") to its sanitized form, so a tool
// is addressable either by its public name or, after sanitization, by its
// originating identifier.
type Registry struct {
	mu             sync.Mutex
	factories      map[string]Factory
	publicByOrigin map[string]string
	originByPublic map[string]string
	resolver       *naming.Resolver
	logger         logging.Logger
}

// NewRegistry constructs an empty registry bound to the given name resolver.
func NewRegistry(resolver *naming.Resolver, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		factories:      make(map[string]Factory),
		publicByOrigin: make(map[string]string),
		originByPublic: make(map[string]string),
		resolver:       resolver,
		logger:         opts.Logger,
	}
}

// Resolver returns the name resolver the registry records mappings in.
func (r *Registry) Resolver() *naming.Resolver { return r.resolver }

// validateShape checks the structural tool contract at registration time so
// a malformed tool fails fast instead of at call time.
func validateShape(publicName string, f Factory) error {
	if publicName == "" {
		return fmt.Errorf("public name must not be empty")
	}
	if f == nil {
		return fmt.Errorf("tool %q: factory must not be nil", publicName)
	}
	t := f()
	if t == nil {
		return fmt.Errorf("tool %q: factory produced nil", publicName)
	}
	if t.Name() == "" {
		return fmt.Errorf("tool %q: tool reports an empty name", publicName)
	}
	if t.Parameters() == nil {
		return fmt.Errorf("tool %q: tool reports a nil parameter schema", publicName)
	}
	return nil
}

// RegisterFactory binds a factory under the given public name. Re-registering
// an already-bound public name overwrites the previous factory and emits a
// warning rather than failing; this last-write-wins behavior supports
// hot-reload of tool sources. Note that in-flight calls dispatched against
// the previous factory are unaffected.
func (r *Registry) RegisterFactory(publicName string, f Factory) error {
	if err := validateShape(publicName, f); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[publicName]; exists {
		r.logger.Warn("registry.overwrite", "public_name", publicName)
	}
	r.factories[publicName] = f

	return nil
}

// BindProviderTool registers a dynamically discovered provider tool under a
// collision-free public name and returns that name. The originating
// identifier "<providerKind>:<providerId>:<toolName>" is recorded in the
// resolver so the tool stays addressable by either name. Binding the same
// originating identifier again keeps its public name and overwrites the
// factory (with a warning).
func (r *Registry) BindProviderTool(providerKind, providerID, toolName string, f Factory) (string, error) {
	origin := fmt.Sprintf("%s:%s:%s", providerKind, providerID, toolName)

	if err := validateShape(origin, f); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if public, ok := r.publicByOrigin[origin]; ok {
		r.logger.Warn("registry.overwrite", "public_name", public, "origin", origin)
		r.factories[public] = f
		return public, nil
	}

	public := toolName
	for suffix := 2; r.bound(public); suffix++ {
		public = fmt.Sprintf("%s_%d", toolName, suffix)
	}

	r.factories[public] = f
	r.publicByOrigin[origin] = public
	r.originByPublic[public] = origin
	r.resolver.AddMapping(origin)

	r.logger.Debug("registry.bound", "public_name", public, "origin", origin)

	return public, nil
}

// bound reports whether a public name is taken. Caller holds the lock.
func (r *Registry) bound(public string) bool {
	_, ok := r.factories[public]
	return ok
}

// Get returns a tool instance for the public name, or nil when unbound.
func (r *Registry) Get(publicName string) Tool {
	r.mu.Lock()
	f, ok := r.factories[publicName]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return f()
}

// Resolve maps a model-supplied tool name to a tool instance and its public
// name: first by exact public-name match, then by treating the name as a
// sanitized originating identifier. ok=false means "tool not found", a
// configuration error the caller handles without retrying.
func (r *Registry) Resolve(name string) (Tool, string, bool) {
	r.mu.Lock()
	if f, ok := r.factories[name]; ok {
		r.mu.Unlock()
		return f(), name, true
	}
	r.mu.Unlock()

	origin, ok := r.resolver.ResolveOriginal(name)
	if !ok {
		return nil, "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	public, ok := r.publicByOrigin[origin]
	if !ok {
		return nil, "", false
	}
	f, ok := r.factories[public]
	if !ok {
		return nil, "", false
	}
	return f(), public, true
}

// OriginOf returns the originating identifier a public name was bound for.
func (r *Registry) OriginOf(publicName string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	origin, ok := r.originByPublic[publicName]
	return origin, ok
}

// Clear removes all bindings. Intended for test isolation and hot-reload.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]Factory)
	r.publicByOrigin = make(map[string]string)
	r.originByPublic = make(map[string]string)
}
