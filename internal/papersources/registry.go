package papersources

import (
	"slices"
	"sync"

	"github.com/helixir/research-integrator/internal/domain"
)

// Registry holds the paper sources registered at startup, keyed by tag.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]PaperSource
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]PaperSource),
	}
}

// Register adds a source to the registry.
// If a source with the same type already exists, it will be replaced.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns a source by type, or nil if not found.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// Has reports whether a source is registered under sourceType.
func (r *Registry) Has(sourceType domain.SourceType) bool {
	return r.Get(sourceType) != nil
}

// Tags returns the registered source tags in ascending order. This is the
// canonical "query order" used when merging results.
func (r *Registry) Tags() []domain.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]domain.SourceType, 0, len(r.sources))
	for tag := range r.sources {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Sources returns all registered sources ordered by tag.
// The returned slice is a snapshot.
func (r *Registry) Sources() []PaperSource {
	tags := r.Tags()

	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]PaperSource, 0, len(tags))
	for _, tag := range tags {
		if s, ok := r.sources[tag]; ok {
			sources = append(sources, s)
		}
	}
	return sources
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
