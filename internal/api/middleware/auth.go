package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/auth"
	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// Header names used for caller authentication
const (
	HeaderCallerAddress = "X-Caller-Address"
	HeaderCallerTOTP    = "X-Caller-TOTP"
	HeaderAdminToken    = "X-Admin-Token"
)

const callerKey = "caller"

// FailureFunc is invoked whenever authentication is refused. subject is
// whatever identity the request claimed, possibly empty.
type FailureFunc func(c *gin.Context, scheme, subject, reason string)

// CallerLookup finds caller accounts by address
type CallerLookup interface {
	GetByAddress(address ethaddr.Address) (*models.Caller, error)
}

// AdminAuth middleware checks for admin token
func AdminAuth(adminToken string, onFailure FailureFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderAdminToken)

		if token == "" {
			onFailure(c, "admin", "", "missing admin token")
			abort(c, http.StatusUnauthorized, "unauthorized", "Admin token required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			onFailure(c, "admin", "", "invalid admin token")
			abort(c, http.StatusForbidden, "forbidden", "Invalid admin token")
			return
		}

		c.Next()
	}
}

// CallerAuth establishes the caller identity from the X-Caller-Address
// header and a bearer token. Callers with a TOTP secret must also send a
// current code in X-Caller-TOTP.
func CallerAuth(callers CallerLookup, onFailure FailureFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimed := c.GetHeader(HeaderCallerAddress)
		address, err := ethaddr.Parse(claimed)
		if err != nil {
			onFailure(c, "caller", claimed, "missing or malformed caller address")
			abort(c, http.StatusUnauthorized, "unauthorized", "Caller address required")
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			onFailure(c, "caller", address.Hex(), "missing bearer token")
			abort(c, http.StatusUnauthorized, "unauthorized", "Bearer token required")
			return
		}

		caller, err := callers.GetByAddress(address)
		if err != nil || !auth.VerifyToken(token, caller.TokenHash) {
			onFailure(c, "caller", address.Hex(), "invalid credentials")
			abort(c, http.StatusUnauthorized, "invalid_credentials", "Invalid caller address or token")
			return
		}

		if caller.TOTPSecret != "" && !auth.ValidateTOTP(caller.TOTPSecret, c.GetHeader(HeaderCallerTOTP)) {
			onFailure(c, "caller", address.Hex(), "invalid TOTP")
			abort(c, http.StatusUnauthorized, "invalid_totp", "Invalid TOTP code")
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller established by CallerAuth
func CallerFrom(c *gin.Context) (*models.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil, false
	}
	caller, ok := v.(*models.Caller)
	return caller, ok
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}
