package models

import (
	"time"

	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// Caller represents an API account allowed to present itself as an address
type Caller struct {
	ID         int64           `json:"id"`
	Address    ethaddr.Address `json:"address"`
	TokenHash  string          `json:"-"` // Never expose token hash in JSON
	TOTPSecret string          `json:"-"` // Never expose TOTP secret in JSON
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
