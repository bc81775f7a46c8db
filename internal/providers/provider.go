package providers

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"opal/internal/config"
	"opal/internal/services"
)

// None disables a stage's transformation.
const None = "none"

// Transformer turns one image into another. Implementations must be safe
// for concurrent use.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, input []byte) ([]byte, error)
}

// Kind identifies which stage a provider serves.
type Kind string

const (
	KindBackground Kind = "background"
	KindScene      Kind = "scene"
	KindUpscale    Kind = "upscale"
)

// Factory builds a provider from configuration.
type Factory func(cfg *config.Config) (Transformer, error)

// Registry maps provider names to factories per stage kind.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]map[string]Factory)}
}

// Builtin returns a registry with every provider shipped with opal.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(KindBackground, "chromakey", newChromaKey)
	r.Register(KindBackground, "removebg", newRemoveBG)
	r.Register(KindScene, "studio", newStudioScene)
	r.Register(KindScene, "http", newHTTPScene)
	r.Register(KindUpscale, "lanczos", newLanczos)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(kind Kind, name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[kind] == nil {
		r.factories[kind] = make(map[string]Factory)
	}
	r.factories[kind][name] = factory
}

// Names lists the registered providers for kind, sorted.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[kind]))
	for name := range r.factories[kind] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build resolves name for kind. "none" and "" yield a nil Transformer, which
// callers treat as passthrough. The returned provider initialises on first
// use and is then shared by every caller.
func (r *Registry) Build(kind Kind, name string, cfg *config.Config) (Transformer, error) {
	if name == "" || name == None {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.factories[kind][name]
	r.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "providers", "build",
			fmt.Sprintf("unknown %s provider %q (available: %v)", kind, name, r.Names(kind)), nil)
	}
	return &lazy{name: name, factory: factory, cfg: cfg}, nil
}

// Set holds the provider for each transformation stage. Nil entries are
// passthrough stages.
type Set struct {
	Background Transformer
	Scene      Transformer
	Upscale    Transformer
}

// BuildSet resolves every stage's provider from cfg.Providers.
func (r *Registry) BuildSet(cfg *config.Config) (Set, error) {
	var set Set
	var err error
	if set.Background, err = r.Build(KindBackground, cfg.Providers.Background, cfg); err != nil {
		return Set{}, err
	}
	if set.Scene, err = r.Build(KindScene, cfg.Providers.Scene, cfg); err != nil {
		return Set{}, err
	}
	if set.Upscale, err = r.Build(KindUpscale, cfg.Providers.Upscale, cfg); err != nil {
		return Set{}, err
	}
	return set, nil
}

type lazy struct {
	name    string
	factory Factory
	cfg     *config.Config

	once  sync.Once
	inner Transformer
	err   error
}

func (l *lazy) Name() string { return l.name }

func (l *lazy) Transform(ctx context.Context, input []byte) ([]byte, error) {
	l.once.Do(func() {
		l.inner, l.err = l.factory(l.cfg)
		if l.err != nil {
			l.err = services.Wrap(services.ErrConfiguration, "providers", "init "+l.name, "", l.err)
		}
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.inner.Transform(ctx, input)
}
