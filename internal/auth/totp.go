package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer = "CertRegistry"
)

// GenerateTOTPSecret generates a new TOTP secret for account and returns
// the secret together with its otpauth:// provisioning URL
func GenerateTOTPSecret(account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

// ValidateTOTP validates a TOTP code against a secret at the current time.
// totp.Validate already allows one period of clock skew.
func ValidateTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

// GenerateTOTPCode returns the code for secret at t
func GenerateTOTPCode(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCode(secret, t)
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}
