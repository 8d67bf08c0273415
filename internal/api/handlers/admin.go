package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/auth"
	"github.com/adamscao/certregistry/internal/db/repository"
	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// AdminHandler handles administrative operations
type AdminHandler struct {
	callerRepo *repository.CallerRepository
	auditRepo  *repository.AuditRepository
	log        *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(callerRepo *repository.CallerRepository, auditRepo *repository.AuditRepository, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		callerRepo: callerRepo,
		auditRepo:  auditRepo,
		log:        log,
	}
}

// CreateCallerRequest represents a caller creation request
type CreateCallerRequest struct {
	Address    string `json:"address" binding:"required"`
	EnableTOTP bool   `json:"enable_totp"`
	Disabled   bool   `json:"disabled"`
}

// CreateCallerResponse represents a caller creation response. Token and
// TOTPSecret are only ever returned here.
type CreateCallerResponse struct {
	Status     string          `json:"status"`
	CallerID   int64           `json:"caller_id"`
	Address    ethaddr.Address `json:"address"`
	Token      string          `json:"token"`
	TOTPSecret string          `json:"totp_secret,omitempty"`
	TOTPURL    string          `json:"totp_url,omitempty"`
}

// CreateCaller creates a new caller account
// POST /v1/admin/callers
func (h *AdminHandler) CreateCaller(c *gin.Context) {
	var req CreateCallerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	address, err := ethaddr.Parse(req.Address)
	if err != nil || address.IsZero() {
		RespondError(c, http.StatusBadRequest, "invalid_address", "Invalid caller address")
		return
	}

	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")

	// Check if caller already exists
	existing, err := h.callerRepo.GetByAddress(address)
	if err != nil && !errors.Is(err, repository.ErrCallerNotFound) {
		h.log.Error("failed to look up caller", "address", address.Hex(), "error", err)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to look up caller")
		return
	}
	if existing != nil {
		RespondError(c, http.StatusConflict, "caller_exists", "Caller already exists")
		return
	}

	token, err := auth.GenerateCallerToken()
	if err != nil {
		h.log.Error("failed to generate caller token", "error", err)
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to generate token")
		return
	}

	caller := &models.Caller{
		Address:   address,
		TokenHash: auth.HashToken(token),
		Enabled:   !req.Disabled,
	}

	var totpURL string
	if req.EnableTOTP {
		caller.TOTPSecret, totpURL, err = auth.GenerateTOTPSecret(address.Hex())
		if err != nil {
			h.log.Error("failed to generate TOTP secret", "error", err)
			RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to generate TOTP secret")
			return
		}
	}

	if err := h.callerRepo.Create(caller); err != nil {
		h.log.Error("failed to create caller", "address", address.Hex(), "error", err)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to create caller")
		return
	}

	if err := h.auditRepo.Create(&models.AuditLog{
		Action:    models.ActionAdminCallerAdd,
		Caller:    address.Hex(),
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Success:   true,
	}); err != nil {
		h.log.Error("failed to write audit log", "error", err)
	}

	c.JSON(http.StatusCreated, CreateCallerResponse{
		Status:     "ok",
		CallerID:   caller.ID,
		Address:    caller.Address,
		Token:      token,
		TOTPSecret: caller.TOTPSecret,
		TOTPURL:    totpURL,
	})
}

// ListCallers lists all caller accounts
// GET /v1/admin/callers
func (h *AdminHandler) ListCallers(c *gin.Context) {
	callers, err := h.callerRepo.List()
	if err != nil {
		h.log.Error("failed to list callers", "error", err)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to list callers")
		return
	}
	if callers == nil {
		callers = []*models.Caller{}
	}

	RespondSuccess(c, gin.H{"callers": callers})
}

// SetCallerEnabledRequest represents an enable/disable request
type SetCallerEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetCallerEnabled enables or disables a caller account
// PUT /v1/admin/callers/:address/enabled
func (h *AdminHandler) SetCallerEnabled(c *gin.Context) {
	address, ok := addressParam(c)
	if !ok {
		return
	}

	var req SetCallerEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	err := h.callerRepo.SetEnabled(address, *req.Enabled)
	if errors.Is(err, repository.ErrCallerNotFound) {
		RespondError(c, http.StatusNotFound, "not_found", "Caller not found")
		return
	}
	if err != nil {
		h.log.Error("failed to update caller", "address", address.Hex(), "error", err)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to update caller")
		return
	}

	action := models.ActionAdminCallerDisable
	if *req.Enabled {
		action = models.ActionAdminCallerEnable
	}
	if err := h.auditRepo.Create(&models.AuditLog{
		Action:    action,
		Caller:    address.Hex(),
		ClientIP:  GetClientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
		Success:   true,
	}); err != nil {
		h.log.Error("failed to write audit log", "error", err)
	}

	RespondSuccess(c, gin.H{
		"status":  "ok",
		"address": address,
		"enabled": *req.Enabled,
	})
}

// ListAudit lists audit log entries, newest first
// GET /v1/admin/audit?caller=&action=&limit=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditLimit)))
	if err != nil || limit <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	caller := c.Query("caller")
	if caller != "" {
		address, err := ethaddr.Parse(caller)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_address", "Invalid caller address")
			return
		}
		caller = address.Hex()
	}

	logs, err := h.auditRepo.List(caller, c.Query("action"), limit)
	if err != nil {
		h.log.Error("failed to list audit logs", "error", err)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to list audit logs")
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	RespondSuccess(c, gin.H{"entries": logs})
}
