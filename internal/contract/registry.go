package contract

import (
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Registry maps span types to contracts. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	byName map[string]Contract
}

// NewRegistry builds a registry from already-decoded contracts.
// Every contract is validated; duplicate names are an error.
func NewRegistry(contracts ...Contract) (*Registry, error) {
	r := &Registry{byName: make(map[string]Contract, len(contracts))}
	for _, c := range contracts {
		if err := r.add(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(c Contract) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("contract %q: %w", c.Name, err)
	}
	c = c.normalize()
	if prev, exists := r.byName[c.Name]; exists {
		return fmt.Errorf("duplicate contract %q (defined in %s and %s)", c.Name, sourceOf(prev), sourceOf(c))
	}
	r.byName[c.Name] = c
	return nil
}

// Resolve returns the contract bound to spanType.
func (r *Registry) Resolve(spanType string) (Contract, bool) {
	if r == nil {
		return Contract{}, false
	}
	c, ok := r.byName[norm.NFC.String(spanType)]
	return c, ok
}

// Contracts returns all contracts sorted by name.
func (r *Registry) Contracts() []Contract {
	if r == nil {
		return []Contract{}
	}
	out := make([]Contract, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of contracts.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byName)
}

func sourceOf(c Contract) string {
	if c.Source == "" {
		return "<inline>"
	}
	return c.Source
}
