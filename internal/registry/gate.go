package registry

import (
	"fmt"

	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// Gate decides who may mint. Exactly one issuer address is allowed.
type Gate struct {
	issuer ethaddr.Address
}

// NewGate creates a gate for the given issuer
func NewGate(issuer ethaddr.Address) *Gate {
	return &Gate{issuer: issuer}
}

// Issuer returns the designated issuer
func (g *Gate) Issuer() ethaddr.Address {
	return g.issuer
}

// Authorize returns nil if caller may mint, ErrUnauthorized otherwise
func (g *Gate) Authorize(caller ethaddr.Address) error {
	if caller != g.issuer {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}
