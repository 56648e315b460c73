package game

import (
	"fmt"
	"sort"
	"sync"
)

// Tier is an economic bracket fixing entry fee and prize pool for a match.
type Tier struct {
	Name       string `json:"name"`
	EntryFee   int64  `json:"entryFee"`
	PrizePool  int64  `json:"prizePool"` // paid to the sole player of a single-player match
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

// Registry holds all configured tiers.
type Registry struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tiers: make(map[string]Tier)}
}

// Register adds a tier. Panics on duplicate names.
func (r *Registry) Register(t Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tiers[t.Name]; exists {
		panic(fmt.Sprintf("tier %q already registered", t.Name))
	}
	r.tiers[t.Name] = t
}

// Get returns a tier by name.
func (r *Registry) Get(name string) (Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tiers[name]
	return t, ok
}

// List returns all tiers ordered by entry fee, then name.
func (r *Registry) List() []Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tier, 0, len(r.tiers))
	for _, t := range r.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryFee != out[j].EntryFee {
			return out[i].EntryFee < out[j].EntryFee
		}
		return out[i].Name < out[j].Name
	})
	return out
}
