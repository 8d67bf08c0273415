package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/internal/registry"
)

// CertRepository is the SQLite journal behind the certificate registry
type CertRepository struct {
	db *sql.DB
}

// NewCertRepository creates a new certificate repository
func NewCertRepository(db *sql.DB) *CertRepository {
	return &CertRepository{db: db}
}

var _ registry.Journal = (*CertRepository)(nil)

// EnsureParams stores p on first use and returns the stored parameters
func (r *CertRepository) EnsureParams(ctx context.Context, p registry.Params) (registry.Params, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO registry_params (id, name, symbol, issuer)
		VALUES (1, ?, ?, ?)
	`, p.Name, p.Symbol, p.Issuer)
	if err != nil {
		return registry.Params{}, fmt.Errorf("failed to store registry params: %w", err)
	}

	var stored registry.Params
	err = r.db.QueryRowContext(ctx, `
		SELECT name, symbol, issuer FROM registry_params WHERE id = 1
	`).Scan(&stored.Name, &stored.Symbol, &stored.Issuer)
	if err != nil {
		return registry.Params{}, fmt.Errorf("failed to get registry params: %w", err)
	}

	return stored, nil
}

// AppendMint stores a certificate and its creation event in one transaction
func (r *CertRepository) AppendMint(ctx context.Context, cert *models.Certificate, event *models.TransferEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	f := cert.Fields
	_, err = tx.ExecContext(ctx, `
		INSERT INTO certificates (
			id, owner, metadata_uri, holder_name, credential_id, title, issuing_body,
			issued_at, completed_at, hours, location, delivery_method, field_of_study,
			sponsor_id, registration_number, minted_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(cert.ID),
		cert.Owner,
		cert.MetadataURI,
		f.HolderName,
		f.CredentialID,
		f.Title,
		f.IssuingBody,
		f.IssuedAt,
		f.CompletedAt,
		int64(f.Hours),
		f.Location,
		f.DeliveryMethod,
		f.FieldOfStudy,
		f.SponsorID,
		f.RegistrationNumber,
		cert.MintedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create certificate record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfer_events (seq, from_address, to_address, token_id, at)
		VALUES (?, ?, ?, ?, ?)
	`, int64(event.Seq), event.From, event.To, int64(event.TokenID), event.At.Unix())
	if err != nil {
		return fmt.Errorf("failed to create transfer event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit certificate %d: %w", cert.ID, err)
	}

	return nil
}

// Certificates returns every stored certificate ordered by id
func (r *CertRepository) Certificates(ctx context.Context) ([]*models.Certificate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, metadata_uri, holder_name, credential_id, title, issuing_body,
		       issued_at, completed_at, hours, location, delivery_method, field_of_study,
		       sponsor_id, registration_number, minted_at
		FROM certificates
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*models.Certificate

	for rows.Next() {
		cert := &models.Certificate{}
		var id, hours, mintedAt int64

		err := rows.Scan(
			&id,
			&cert.Owner,
			&cert.MetadataURI,
			&cert.Fields.HolderName,
			&cert.Fields.CredentialID,
			&cert.Fields.Title,
			&cert.Fields.IssuingBody,
			&cert.Fields.IssuedAt,
			&cert.Fields.CompletedAt,
			&hours,
			&cert.Fields.Location,
			&cert.Fields.DeliveryMethod,
			&cert.Fields.FieldOfStudy,
			&cert.Fields.SponsorID,
			&cert.Fields.RegistrationNumber,
			&mintedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}

		cert.ID = uint64(id)
		cert.Fields.Hours = uint32(hours)
		cert.MintedAt = time.Unix(mintedAt, 0).UTC()

		certs = append(certs, cert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate certificates: %w", err)
	}

	return certs, nil
}

// Events returns every stored transfer event ordered by sequence
func (r *CertRepository) Events(ctx context.Context) ([]*models.TransferEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, from_address, to_address, token_id, at
		FROM transfer_events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer events: %w", err)
	}
	defer rows.Close()

	var events []*models.TransferEvent

	for rows.Next() {
		ev := &models.TransferEvent{}
		var seq, tokenID, at int64

		if err := rows.Scan(&seq, &ev.From, &ev.To, &tokenID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transfer event: %w", err)
		}

		ev.Seq = uint64(seq)
		ev.TokenID = uint64(tokenID)
		ev.At = time.Unix(at, 0).UTC()

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer events: %w", err)
	}

	return events, nil
}
