package models

import (
	"time"

	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// CredentialFields holds the immutable credential data of a certificate.
// Timestamps are unix seconds.
type CredentialFields struct {
	HolderName   string `json:"holder_name"`
	CredentialID string `json:"credential_id"`
	Title        string `json:"title"`
	IssuingBody  string `json:"issuing_body"`
	IssuedAt     int64  `json:"issued_at"`
	CompletedAt  int64  `json:"completed_at"`
	Hours        uint32 `json:"hours"`

	// Optional descriptive fields, only settable through the structured form
	Location           string `json:"location,omitempty"`
	DeliveryMethod     string `json:"delivery_method,omitempty"`
	FieldOfStudy       string `json:"field_of_study,omitempty"`
	SponsorID          string `json:"sponsor_id,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty"`
}

// Certificate represents a minted certificate record
type Certificate struct {
	ID          uint64           `json:"token_id"`
	Owner       ethaddr.Address  `json:"owner"`
	MetadataURI string           `json:"token_uri"`
	Fields      CredentialFields `json:"certificate"`
	MintedAt    time.Time        `json:"minted_at"`
}
