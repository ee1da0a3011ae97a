package providers

import (
	"net/http"
	"strings"
	"sync"

	"paycheck/internal/platform/config"
)

// Registry maps each Provider to its Adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// NewRegistryFromConfig builds an HTTP adapter for every default spec,
// configured from the providers section keyed by lowercase provider name.
func NewRegistryFromConfig(cfg map[string]config.ProviderConfig, client *http.Client) *Registry {
	r := NewRegistry()
	for _, spec := range DefaultSpecs() {
		pc := cfg[strings.ToLower(string(spec.Provider))]
		r.Register(NewHTTPAdapter(spec, Config{
			BaseURL:       strings.TrimRight(pc.BaseURL, "/"),
			APIKey:        pc.APIKey,
			Timeout:       pc.Timeout,
			RatePerSecond: pc.RatePerSecond,
			Burst:         pc.Burst,
		}, client))
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

func (r *Registry) Get(p Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return a, nil
}
