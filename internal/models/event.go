package models

import (
	"time"

	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// TransferEvent is an ownership-establishing notification. Mints carry
// From == ethaddr.Zero.
type TransferEvent struct {
	Seq     uint64          `json:"seq"`
	From    ethaddr.Address `json:"from"`
	To      ethaddr.Address `json:"to"`
	TokenID uint64          `json:"token_id"`
	At      time.Time       `json:"at"`
}
