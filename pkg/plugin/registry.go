// Package plugin is the registry of speech pipeline backends. Backends
// register a factory per kind from init, and the session builds them by
// name from configuration.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Plugin kinds.
const (
	KindSTT  = "stt"
	KindLLM  = "llm"
	KindTTS  = "tts"
	KindVAD  = "vad"
	KindTurn = "turn"
)

// ErrNotFound is returned when no plugin is registered under a kind and name.
var ErrNotFound = errors.New("plugin not found")

// Factory creates a new provider instance from configuration. The result is
// asserted to the kind's interface by the caller.
type Factory func(cfg map[string]any) (any, error)

// Downloader is implemented by plugins that fetch model files ahead of time.
// params are the ones the factory will be called with, so the files land
// where the built provider looks for them. nil selects the defaults.
type Downloader interface {
	Download(ctx context.Context, params map[string]any) error
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, params map[string]any) error

// Download calls f.
func (f DownloaderFunc) Download(ctx context.Context, params map[string]any) error {
	return f(ctx, params)
}

// Plugin represents a registered plugin with its metadata.
type Plugin struct {
	Kind        string
	Name        string
	Factory     Factory
	Description string
	Version     string
	// Config documents the accepted parameters and their defaults.
	Config     map[string]any
	Downloader Downloader
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Default returns the process-wide registry that plugin packages register into.
func Default() *Registry {
	return globalRegistry
}

// Register adds a plugin to the global registry.
// Panics if a plugin with the same kind and name is already registered.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with additional metadata to the global registry.
func RegisterWithMetadata(plugin *Plugin) {
	globalRegistry.RegisterWithMetadata(plugin)
}

// Get retrieves a plugin factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns all registered plugins of a specific kind.
// If kind is empty, returns all plugins.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// ListKinds returns all registered plugin kinds.
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// DownloadAll runs every registered downloader in the global registry.
func DownloadAll(ctx context.Context) error {
	return globalRegistry.DownloadAll(ctx)
}

// Register adds a plugin to this registry instance.
// Panics if a plugin with the same kind and name is already registered.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

// RegisterWithMetadata adds a plugin with metadata to this registry instance.
// Panics if a plugin with the same kind and name is already registered.
func (r *Registry) RegisterWithMetadata(plugin *Plugin) {
	if plugin.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if plugin.Name == "" {
		panic("plugin name cannot be empty")
	}
	if plugin.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[plugin.Kind] == nil {
		r.plugins[plugin.Kind] = make(map[string]*Plugin)
	}

	if existing, exists := r.plugins[plugin.Kind][plugin.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			plugin.Kind, plugin.Name, existing.Version, plugin.Version))
	}

	r.plugins[plugin.Kind][plugin.Name] = plugin
}

// Lookup returns the plugin registered under kind and name.
func (r *Registry) Lookup(kind, name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	return p, ok
}

// Get retrieves a plugin factory from this registry instance.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	p, ok := r.Lookup(kind, name)
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// Build creates an instance of the named plugin.
func (r *Registry) Build(kind, name string, cfg map[string]any) (any, error) {
	factory, ok := r.Get(kind, name)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, name, ErrNotFound)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	instance, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", kind, name, err)
	}
	return instance, nil
}

// List returns all registered plugins of a specific kind.
// If kind is empty, returns all plugins sorted by kind then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, plugin := range kindMap {
			plugins = append(plugins, plugin)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})

	return plugins
}

// ListKinds returns all registered plugin kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)
	return kinds
}

// DownloadAll runs every registered downloader once with default params, in
// list order, and returns the combined failures.
func (r *Registry) DownloadAll(ctx context.Context) error {
	var err error
	for _, p := range r.List("") {
		if p.Downloader == nil {
			continue
		}
		if derr := p.Downloader.Download(ctx, nil); derr != nil {
			err = multierr.Append(err, fmt.Errorf("%s/%s: %w", p.Kind, p.Name, derr))
		}
	}
	return err
}

// Clear removes all plugins from this registry instance.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
