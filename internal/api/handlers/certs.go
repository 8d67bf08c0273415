package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/api/middleware"
	"github.com/adamscao/certregistry/internal/db/repository"
	"github.com/adamscao/certregistry/internal/metrics"
	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/internal/policy"
	"github.com/adamscao/certregistry/internal/registry"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// positionalFields names the positional field list in order
var positionalFields = []string{
	"holder_name",
	"credential_id",
	"title",
	"issuing_body",
	"issued_at",
	"completed_at",
	"hours",
}

// CertHandler handles certificate minting and lookups
type CertHandler struct {
	registry  *registry.Registry
	auditRepo *repository.AuditRepository
	validator *policy.Validator
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewCertHandler creates a new certificate handler
func NewCertHandler(
	reg *registry.Registry,
	auditRepo *repository.AuditRepository,
	validator *policy.Validator,
	m *metrics.Metrics,
	log *slog.Logger,
) *CertHandler {
	return &CertHandler{
		registry:  reg,
		auditRepo: auditRepo,
		validator: validator,
		metrics:   m,
		log:       log,
	}
}

// MintRequest represents a mint request. Exactly one of Certificate and
// Params must be set.
type MintRequest struct {
	To          string                   `json:"to" binding:"required"`
	TokenURI    string                   `json:"token_uri"`
	Certificate *models.CredentialFields `json:"certificate"`
	Params      []json.RawMessage        `json:"params"`
}

// MintResponse represents a mint response
type MintResponse struct {
	TokenID uint64               `json:"token_id"`
	Event   models.TransferEvent `json:"event"`
}

// CertificateResponse is a certificate record with its position in the
// owner's holdings
type CertificateResponse struct {
	models.Certificate
	OwnerIndex uint64 `json:"owner_index"`
}

// positional holds the decoded positional field list
type positional struct {
	holderName, credentialID, title, issuingBody string
	issuedAt, completedAt                        int64
	hours                                        uint32
}

func (p positional) fields() models.CredentialFields {
	return models.CredentialFields{
		HolderName:   p.holderName,
		CredentialID: p.credentialID,
		Title:        p.title,
		IssuingBody:  p.issuingBody,
		IssuedAt:     p.issuedAt,
		CompletedAt:  p.completedAt,
		Hours:        p.hours,
	}
}

func decodePositional(params []json.RawMessage) (positional, error) {
	var p positional
	if len(params) != len(positionalFields) {
		return p, fmt.Errorf("params must have %d items, got %d", len(positionalFields), len(params))
	}

	dests := []interface{}{
		&p.holderName,
		&p.credentialID,
		&p.title,
		&p.issuingBody,
		&p.issuedAt,
		&p.completedAt,
		&p.hours,
	}
	for i, dest := range dests {
		if err := json.Unmarshal(params[i], dest); err != nil {
			return p, fmt.Errorf("params[%d] (%s) is invalid: %w", i, positionalFields[i], err)
		}
	}
	return p, nil
}

// Mint mints a new certificate
// POST /v1/certificates
func (h *CertHandler) Mint(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", "Caller identity required")
		return
	}

	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")
	subject := caller.Address.Hex()

	if err := h.validator.ValidateCaller(caller, caller.Address == h.registry.Issuer()); err != nil {
		h.reject(metrics.ReasonPolicy, subject, clientIP, userAgent, err)
		RespondError(c, http.StatusForbidden, "policy_violation", err.Error())
		return
	}

	// Non-issuers are refused before the request itself is looked at
	if err := h.registry.Authorize(caller.Address); err != nil {
		h.reject(metrics.ReasonUnauthorized, subject, clientIP, userAgent, err)
		RespondRegistryError(c, err)
		return
	}

	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reject(metrics.ReasonInvalidArgument, subject, clientIP, userAgent, err)
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if (req.Certificate == nil) == (req.Params == nil) {
		h.reject(metrics.ReasonInvalidArgument, subject, clientIP, userAgent, errors.New("exactly one of certificate and params required"))
		RespondError(c, http.StatusBadRequest, "invalid_request", "Provide exactly one of certificate and params")
		return
	}

	to, err := ethaddr.Parse(req.To)
	if err != nil {
		h.reject(metrics.ReasonInvalidArgument, subject, clientIP, userAgent, err)
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("Invalid owner address: %v", err))
		return
	}

	var (
		fields models.CredentialFields
		pos    positional
	)
	if req.Params != nil {
		pos, err = decodePositional(req.Params)
		if err != nil {
			h.reject(metrics.ReasonInvalidArgument, subject, clientIP, userAgent, err)
			RespondErrorWithDetails(c, http.StatusBadRequest, "invalid_params", err.Error(), gin.H{
				"expected": positionalFields,
			})
			return
		}
		fields = pos.fields()
	} else {
		fields = *req.Certificate
	}

	if err := h.validator.ValidateMint(req.TokenURI, fields); err != nil {
		h.reject(metrics.ReasonPolicy, subject, clientIP, userAgent, err)
		RespondError(c, http.StatusBadRequest, "policy_violation", err.Error())
		return
	}

	start := time.Now()
	var id uint64
	if req.Params != nil {
		id, err = h.registry.MintPositional(c.Request.Context(), caller.Address, to, req.TokenURI,
			pos.holderName, pos.credentialID, pos.title, pos.issuingBody,
			pos.issuedAt, pos.completedAt, pos.hours)
	} else {
		id, err = h.registry.Mint(c.Request.Context(), caller.Address, to, req.TokenURI, fields)
	}
	h.metrics.ObserveMint(start)
	if err != nil {
		h.reject(rejectionReason(err), subject, clientIP, userAgent, err)
		RespondRegistryError(c, err)
		return
	}

	event, err := h.registry.MintEvent(id)
	if err != nil {
		h.log.Error("mint event missing", "token_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to load mint event")
		return
	}

	h.metrics.IncrementMinted()
	h.log.Info("certificate minted",
		"request_id", middleware.RequestID(c),
		"token_id", id,
		"owner", to.Hex(),
		"credential_id", fields.CredentialID,
	)
	h.audit(&models.AuditLog{
		Action:    models.ActionCertMint,
		Caller:    subject,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Success:   true,
		Details: auditDetails(map[string]interface{}{
			"token_id":      id,
			"owner":         to.Hex(),
			"credential_id": fields.CredentialID,
			"positional":    req.Params != nil,
		}),
	})

	c.JSON(http.StatusCreated, MintResponse{
		TokenID: id,
		Event:   event,
	})
}

// GetCertificate returns the full record of a certificate
// GET /v1/certificates/:id
func (h *CertHandler) GetCertificate(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	cert, err := h.registry.Certificate(id)
	if err != nil {
		RespondRegistryError(c, err)
		return
	}

	index, err := h.registry.IndexOfToken(id)
	if err != nil {
		RespondRegistryError(c, err)
		return
	}

	RespondSuccess(c, CertificateResponse{
		Certificate: cert,
		OwnerIndex:  index,
	})
}

// GetTokenURI returns the metadata URI of a certificate
// GET /v1/certificates/:id/uri
func (h *CertHandler) GetTokenURI(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	uri, err := h.registry.TokenURI(id)
	if err != nil {
		RespondRegistryError(c, err)
		return
	}

	RespondSuccess(c, gin.H{
		"token_id":  id,
		"token_uri": uri,
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, registry.ErrUnauthorized):
		return metrics.ReasonUnauthorized
	case errors.Is(err, registry.ErrInvalidArgument):
		return metrics.ReasonInvalidArgument
	default:
		return metrics.ReasonInternal
	}
}

func (h *CertHandler) reject(reason, caller, clientIP, userAgent string, err error) {
	h.metrics.IncrementRejected(reason)
	h.log.Warn("mint rejected", "caller", caller, "reason", reason, "error", err)
	h.audit(&models.AuditLog{
		Action:    models.ActionCertMint,
		Caller:    caller,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Success:   false,
		ErrorMsg:  err.Error(),
	})
}

func (h *CertHandler) audit(entry *models.AuditLog) {
	if err := h.auditRepo.Create(entry); err != nil {
		h.log.Error("failed to write audit log", "action", entry.Action, "error", err)
	}
}

func auditDetails(details map[string]interface{}) string {
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(b)
}
