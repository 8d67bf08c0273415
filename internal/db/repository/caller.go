package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// ErrCallerNotFound is returned when no caller account matches
var ErrCallerNotFound = errors.New("caller not found")

// CallerRepository handles caller account data access
type CallerRepository struct {
	db *sql.DB
}

// NewCallerRepository creates a new caller repository
func NewCallerRepository(db *sql.DB) *CallerRepository {
	return &CallerRepository{db: db}
}

// Create creates a new caller
func (r *CallerRepository) Create(caller *models.Caller) error {
	query := `
		INSERT INTO callers (address, token_hash, totp_secret, enabled)
		VALUES (?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		caller.Address,
		caller.TokenHash,
		caller.TOTPSecret,
		caller.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to create caller: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	caller.ID = id
	caller.CreatedAt = time.Now()
	caller.UpdatedAt = time.Now()

	return nil
}

// GetByAddress retrieves a caller by address
func (r *CallerRepository) GetByAddress(address ethaddr.Address) (*models.Caller, error) {
	query := `
		SELECT id, address, token_hash, totp_secret, enabled, created_at, updated_at
		FROM callers
		WHERE address = ?
	`

	caller, err := scanCaller(r.db.QueryRow(query, address))
	if err == sql.ErrNoRows {
		return nil, ErrCallerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get caller: %w", err)
	}

	return caller, nil
}

// SetEnabled enables or disables a caller
func (r *CallerRepository) SetEnabled(address ethaddr.Address, enabled bool) error {
	query := `
		UPDATE callers
		SET enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE address = ?
	`

	result, err := r.db.Exec(query, enabled, address)
	if err != nil {
		return fmt.Errorf("failed to update caller: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrCallerNotFound
	}

	return nil
}

// List lists all callers
func (r *CallerRepository) List() ([]*models.Caller, error) {
	query := `
		SELECT id, address, token_hash, totp_secret, enabled, created_at, updated_at
		FROM callers
		ORDER BY id ASC
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list callers: %w", err)
	}
	defer rows.Close()

	var callers []*models.Caller

	for rows.Next() {
		caller, err := scanCaller(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan caller: %w", err)
		}
		callers = append(callers, caller)
	}

	return callers, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCaller(row scanner) (*models.Caller, error) {
	caller := &models.Caller{}
	var enabled int

	err := row.Scan(
		&caller.ID,
		&caller.Address,
		&caller.TokenHash,
		&caller.TOTPSecret,
		&enabled,
		&caller.CreatedAt,
		&caller.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	caller.Enabled = enabled == 1
	return caller, nil
}
