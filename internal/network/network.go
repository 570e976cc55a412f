package network

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrUnknownNetwork is returned when a network identifier is not in the registry.
var ErrUnknownNetwork = errors.New("unknown network")

// Asset describes the token a network settles payments in.
type Asset struct {
	Address  string
	Symbol   string
	Decimals int
	// Name and Version form the signature domain for the asset.
	Name    string
	Version string
}

// Network is one entry of the registry.
type Network struct {
	ID      string
	Kind    Kind
	ChainID *big.Int // nil for SVM networks
	Testnet bool
	Asset   Asset
}

// MinUnit returns the smallest representable amount of the network's asset
// as a fraction of one whole unit.
func (n Network) MinUnit() *big.Rat {
	return new(big.Rat).SetFrac(big.NewInt(1), pow10(n.Asset.Decimals))
}

// Registry is an ordered, immutable set of networks.
type Registry struct {
	ordered []Network
	byID    map[string]Network
}

// New builds a registry from the given networks, preserving order.
func New(networks ...Network) (*Registry, error) {
	r := &Registry{
		ordered: make([]Network, 0, len(networks)),
		byID:    make(map[string]Network, len(networks)),
	}
	for _, n := range networks {
		if n.ID == "" {
			return nil, errors.New("network id is required")
		}
		if _, dup := r.byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate network %q", n.ID)
		}
		if n.Asset.Decimals < 0 || n.Asset.Decimals > 36 {
			return nil, fmt.Errorf("network %q: invalid decimals %d", n.ID, n.Asset.Decimals)
		}
		if err := n.Kind.ValidateAddress(n.Asset.Address); err != nil {
			return nil, fmt.Errorf("network %q: asset: %w", n.ID, err)
		}
		if n.Kind == KindEVM && n.ChainID == nil {
			return nil, fmt.Errorf("network %q: chain id is required for evm networks", n.ID)
		}
		r.ordered = append(r.ordered, n)
		r.byID[n.ID] = n
	}
	return r, nil
}

// Lookup returns the network with the given identifier.
func (r *Registry) Lookup(id string) (Network, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// Get is Lookup with an error suitable for wrapping.
func (r *Registry) Get(id string) (Network, error) {
	n, ok := r.byID[id]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
	}
	return n, nil
}

// Networks returns the registry's networks in order. The slice is a copy.
func (r *Registry) Networks() []Network {
	out := make([]Network, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of networks.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// IDs returns the network identifiers in order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.ordered))
	for i, n := range r.ordered {
		ids[i] = n.ID
	}
	return ids
}

// Subset returns a registry restricted to the given identifiers, keeping
// this registry's order. An empty list returns the receiver.
func (r *Registry) Subset(ids []string) (*Registry, error) {
	if len(ids) == 0 {
		return r, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
		}
		want[id] = true
	}
	var picked []Network
	for _, n := range r.ordered {
		if want[n.ID] {
			picked = append(picked, n)
		}
	}
	return New(picked...)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
