package provider

import (
	"fmt"
	"sort"
)

// Registry holds all configured issuers and allows lookup by id.
// It performs no auth logic itself.
type Registry struct {
	providers map[string]Client
}

// NewRegistry registers the given clients by name.
// Names must be unique; a later client replaces an earlier one.
func NewRegistry(list ...Client) *Registry {
	m := make(map[string]Client, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the client by name or ErrUnknownProvider.
func (r *Registry) Get(name string) (Client, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// ByProviderURL finds the client whose ProviderURL matches issuer.
func (r *Registry) ByProviderURL(issuer string) (Client, error) {
	for _, p := range r.providers {
		if p.ProviderURL() == issuer {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, issuer)
}

// Names lists the registered ids in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
