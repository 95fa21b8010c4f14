package collector

import (
	"context"
	"errors"
	"fmt"

	"TrendSentinel/internal/model"
)

// ErrUnknownProvider is returned for a provider name that was never registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrUnknownSymbol is returned by adapters when the provider has no such market.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Provider fetches daily bars from one market data source.
type Provider interface {
	Name() string
	// FetchOHLCV returns at least the limit most recent daily bars when the
	// provider has that much history. Times need not be normalized.
	FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error)
}

// SymbolLister is implemented by providers that can enumerate their markets.
type SymbolLister interface {
	Name() string
	ListSymbols(ctx context.Context) ([]model.SymbolEntry, error)
}

// ProviderError wraps any failure to fetch a series from a provider.
type ProviderError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Registry maps provider names to adapters. Registration order is kept.
type Registry struct {
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its Name, replacing any previous adapter of that name.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, ok := r.providers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Listers returns the registered providers that can enumerate symbols.
func (r *Registry) Listers() []SymbolLister {
	var out []SymbolLister
	for _, name := range r.order {
		if l, ok := r.providers[name].(SymbolLister); ok {
			out = append(out, l)
		}
	}
	return out
}
