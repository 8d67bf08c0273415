package policy

import (
	"errors"
	"fmt"

	"github.com/adamscao/certregistry/internal/config"
	"github.com/adamscao/certregistry/internal/models"
)

// ErrPolicyViolation is wrapped by every rejection from the validator
var ErrPolicyViolation = errors.New("policy violation")

// Validator checks mint requests against service policy before they reach
// the registry. The registry itself accepts any field values.
type Validator struct {
	config *config.Config
}

// NewValidator creates a new policy validator
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{config: cfg}
}

// ValidateCaller checks that an authenticated caller may use the mint
// endpoint at all
func (v *Validator) ValidateCaller(caller *models.Caller, issuer bool) error {
	if caller == nil {
		return fmt.Errorf("%w: no caller", ErrPolicyViolation)
	}

	// Check if caller is enabled
	if !caller.Enabled {
		return fmt.Errorf("%w: caller account is disabled", ErrPolicyViolation)
	}

	// The issuer account must carry a second factor when policy demands it
	if issuer && v.config.Policy.RequireIssuerTOTP && caller.TOTPSecret == "" {
		return fmt.Errorf("%w: issuer account has no TOTP secret configured", ErrPolicyViolation)
	}

	return nil
}

// ValidateMint checks the size limits of a mint request
func (v *Validator) ValidateMint(metadataURI string, fields models.CredentialFields) error {
	maxURI := v.config.Policy.MaxTokenURILength
	if len(metadataURI) > maxURI {
		return fmt.Errorf("%w: token_uri is %d bytes, limit is %d", ErrPolicyViolation, len(metadataURI), maxURI)
	}

	maxHours := v.config.Policy.MaxHours
	if int64(fields.Hours) > int64(maxHours) {
		return fmt.Errorf("%w: hours %d exceeds limit %d", ErrPolicyViolation, fields.Hours, maxHours)
	}

	return nil
}
