package models

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Caller    string    `json:"caller,omitempty"`
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Details   string    `json:"details,omitempty"` // JSON
}

// Audit action constants
const (
	ActionCertMint           = "cert_mint"
	ActionAdminCallerAdd     = "admin_caller_create"
	ActionAdminCallerEnable  = "admin_caller_enable"
	ActionAdminCallerDisable = "admin_caller_disable"
	ActionAuthFailed         = "auth_failed"
)
