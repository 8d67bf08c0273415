package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/registry"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// RespondErrorWithDetails sends an error response with details
func RespondErrorWithDetails(c *gin.Context, statusCode int, errorCode string, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// RespondSuccess sends a success response
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondRegistryError translates a registry error into its HTTP form
func RespondRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrUnauthorized):
		RespondError(c, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, registry.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, registry.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, registry.ErrIndexOutOfBounds):
		RespondError(c, http.StatusNotFound, "index_out_of_bounds", err.Error())
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", "Registry operation failed")
	}
}

// GetClientIP gets the real client IP address
func GetClientIP(c *gin.Context) string {
	// Try X-Forwarded-For header first (for proxied requests)
	if ip := c.GetHeader("X-Forwarded-For"); ip != "" {
		return ip
	}

	// Try X-Real-IP header
	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}

	// Fall back to RemoteAddr
	return c.ClientIP()
}

func addressParam(c *gin.Context) (ethaddr.Address, bool) {
	address, err := ethaddr.Parse(c.Param("address"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_address", err.Error())
		return ethaddr.Address{}, false
	}
	return address, true
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_"+name, "Parameter "+name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}
