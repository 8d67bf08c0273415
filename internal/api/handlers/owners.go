package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/registry"
)

// OwnerHandler serves per-owner enumeration
type OwnerHandler struct {
	registry *registry.Registry
}

// NewOwnerHandler creates a new owner handler
func NewOwnerHandler(reg *registry.Registry) *OwnerHandler {
	return &OwnerHandler{registry: reg}
}

// GetBalance returns how many certificates an address holds
// GET /v1/owners/:address/balance
func (h *OwnerHandler) GetBalance(c *gin.Context) {
	owner, ok := addressParam(c)
	if !ok {
		return
	}

	RespondSuccess(c, gin.H{
		"owner":   owner,
		"balance": h.registry.BalanceOf(owner),
	})
}

// GetTokenByIndex returns the id at a position of an owner's holdings
// GET /v1/owners/:address/tokens/:index
func (h *OwnerHandler) GetTokenByIndex(c *gin.Context) {
	owner, ok := addressParam(c)
	if !ok {
		return
	}
	index, ok := uintParam(c, "index")
	if !ok {
		return
	}

	id, err := h.registry.TokenOfOwnerByIndex(owner, index)
	if err != nil {
		RespondRegistryError(c, err)
		return
	}

	RespondSuccess(c, gin.H{
		"owner":    owner,
		"index":    index,
		"token_id": id,
	})
}

// ListCertificates returns every certificate record of an owner in
// enumeration order
// GET /v1/owners/:address/certificates
func (h *OwnerHandler) ListCertificates(c *gin.Context) {
	owner, ok := addressParam(c)
	if !ok {
		return
	}

	certs := h.registry.CertificatesByOwner(owner)
	RespondSuccess(c, gin.H{
		"owner":        owner,
		"count":        len(certs),
		"certificates": certs,
	})
}

// ListDetails returns only the credential fields of an owner's certificates
// GET /v1/owners/:address/details
func (h *OwnerHandler) ListDetails(c *gin.Context) {
	owner, ok := addressParam(c)
	if !ok {
		return
	}

	details := h.registry.GetAllByOwner(owner)
	RespondSuccess(c, gin.H{
		"owner":   owner,
		"count":   len(details),
		"details": details,
	})
}

// ListEvents returns the events that delivered certificates to an owner
// GET /v1/owners/:address/events
func (h *OwnerHandler) ListEvents(c *gin.Context) {
	owner, ok := addressParam(c)
	if !ok {
		return
	}

	RespondSuccess(c, gin.H{
		"owner":  owner,
		"events": h.registry.EventsTo(owner),
	})
}
