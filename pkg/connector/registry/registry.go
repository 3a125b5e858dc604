// Package registry manages connector registration and instantiation. Source
// and sink implementations register factories from init() functions; the CLI
// imports them for side effects and resolves instances by configured name.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/logger"
)

// SourceFactory creates a configured source connector.
type SourceFactory func(cfg *config.BaseConfig) (core.Source, error)

// SinkFactory creates a configured result sink.
type SinkFactory func(cfg *config.BaseConfig) (core.ResultSink, error)

// Registry holds named connector factories.
type Registry struct {
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source factory.
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return fserrors.Newf(fserrors.ErrorTypeConfig, "source connector %s already registered", name)
	}
	r.sources[name] = factory
	return nil
}

// RegisterSink registers a sink factory.
func (r *Registry) RegisterSink(name string, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; exists {
		return fserrors.Newf(fserrors.ErrorTypeConfig, "sink connector %s already registered", name)
	}
	r.sinks[name] = factory
	return nil
}

// CreateSource instantiates the source named in cfg.Source.Type.
func (r *Registry) CreateSource(cfg *config.BaseConfig) (core.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fserrors.Newf(fserrors.ErrorTypeConfig,
			"source connector %s not registered (available: %v)", cfg.Source.Type, r.Sources())
	}
	return factory(cfg)
}

// CreateSink instantiates the sink named in cfg.Sink.Type.
func (r *Registry) CreateSink(cfg *config.BaseConfig) (core.ResultSink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[cfg.Sink.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fserrors.Newf(fserrors.ErrorTypeConfig,
			"sink connector %s not registered (available: %v)", cfg.Sink.Type, r.Sinks())
	}
	return factory(cfg)
}

// Sources lists registered source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sinks lists registered sink names, sorted.
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Global registry helpers.

// RegisterSource registers a source factory in the global registry.
func RegisterSource(name string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterSink registers a sink factory in the global registry.
func RegisterSink(name string, factory SinkFactory) error {
	return globalRegistry.RegisterSink(name, factory)
}

// CreateSource instantiates a source from the global registry.
func CreateSource(cfg *config.BaseConfig) (core.Source, error) {
	return globalRegistry.CreateSource(cfg)
}

// CreateSink instantiates a sink from the global registry.
func CreateSink(cfg *config.BaseConfig) (core.ResultSink, error) {
	return globalRegistry.CreateSink(cfg)
}

// Sources lists global source names.
func Sources() []string { return globalRegistry.Sources() }

// Sinks lists global sink names.
func Sinks() []string { return globalRegistry.Sinks() }
