// Package resolver maps arbitration authorities to display metadata.
//
// Resolvers are identified by (chain id, address). Lookups that miss
// the registry return an explicit unknown entry instead of nil, so
// callers never branch on missing data.
package resolver

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags the sort of arbitration authority behind an address.
type Kind string

const (
	KindKleros  Kind = "kleros"
	KindLexDAO  Kind = "lexdao"
	KindCustom  Kind = "custom"
	KindUnknown Kind = "unknown"
)

// Metadata describes a known resolver for display purposes.
type Metadata struct {
	Address  common.Address `json:"address"`
	ChainID  int64          `json:"chainId"`
	Kind     Kind           `json:"kind"`
	Name     string         `json:"name"`
	Logo     string         `json:"logo,omitempty"`
	TermsURL string         `json:"termsUrl,omitempty"`
}

// Known reports whether the entry came from the registry.
func (m Metadata) Known() bool { return m.Kind != KindUnknown }

type key struct {
	chainID int64
	address common.Address
}

// Registry is a typed lookup table of resolver metadata.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Metadata
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]Metadata)}
}

// Register adds or replaces an entry.
func (r *Registry) Register(m Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{m.ChainID, m.Address}] = m
}

// Lookup returns the metadata for (chainID, address). Unregistered
// resolvers come back as an unknown entry with a shortened address as
// the display name.
func (r *Registry) Lookup(chainID int64, address common.Address) Metadata {
	r.mu.RLock()
	m, ok := r.entries[key{chainID, address}]
	r.mu.RUnlock()
	if ok {
		return m
	}
	return Metadata{
		Address: address,
		ChainID: chainID,
		Kind:    KindUnknown,
		Name:    shortAddress(address),
	}
}

func shortAddress(a common.Address) string {
	hex := a.Hex()
	if len(hex) <= 10 {
		return hex
	}
	return hex[:6] + "..." + strings.ToLower(hex[len(hex)-4:])
}
