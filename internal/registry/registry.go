// Package registry implements the certificate registry: an issuer-gated,
// append-only table of certificate records with a per-owner index and an
// ordered log of creation events.
//
// All mutation goes through Mint, which runs under a single write lock and
// either applies completely or not at all. Reads take the read lock and only
// ever observe the state after some completed prefix of mints.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// Params are the construction parameters of a registry. They never change
// after the registry is created.
type Params struct {
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Issuer ethaddr.Address `json:"issuer"`
}

// Validate checks that the parameters can back a registry
func (p Params) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidArgument)
	}
	if p.Issuer.IsZero() {
		return fmt.Errorf("%w: issuer must not be the zero address", ErrInvalidArgument)
	}
	return nil
}

// Journal durably records mints. AppendMint must store the certificate and
// its event together or not at all.
type Journal interface {
	EnsureParams(ctx context.Context, p Params) (Params, error)
	AppendMint(ctx context.Context, cert *models.Certificate, event *models.TransferEvent) error
	Certificates(ctx context.Context) ([]*models.Certificate, error)
	Events(ctx context.Context) ([]*models.TransferEvent, error)
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source used to stamp mints
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry is the certificate store
type Registry struct {
	params  Params
	gate    *Gate
	journal Journal
	now     func() time.Time

	mu        sync.RWMutex
	nextID    uint64
	records   []models.Certificate // records[id-1]
	owners    map[ethaddr.Address][]uint64
	positions map[uint64]int // id -> position in owners[record.Owner]
	events    []models.TransferEvent
	mintEvent map[uint64]int // id -> index in events
}

// New creates an empty in-memory registry
func New(p Params, opts ...Option) (*Registry, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		params:    p,
		gate:      NewGate(p.Issuer),
		now:       time.Now,
		nextID:    1,
		owners:    make(map[ethaddr.Address][]uint64),
		positions: make(map[uint64]int),
		mintEvent: make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Open creates a registry backed by a journal and replays its contents.
// The journal's stored parameters must match p.
func Open(ctx context.Context, p Params, journal Journal, opts ...Option) (*Registry, error) {
	r, err := New(p, opts...)
	if err != nil {
		return nil, err
	}

	stored, err := journal.EnsureParams(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry parameters: %w", err)
	}
	if stored != p {
		return nil, fmt.Errorf("registry parameters are immutable: stored %s/%s issuer %s, configured %s/%s issuer %s",
			stored.Name, stored.Symbol, stored.Issuer, p.Name, p.Symbol, p.Issuer)
	}

	certs, err := journal.Certificates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}
	events, err := journal.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	if len(certs) != len(events) {
		return nil, fmt.Errorf("journal is inconsistent: %d certificates, %d events", len(certs), len(events))
	}

	for i, cert := range certs {
		ev := events[i]
		if cert.ID != r.nextID {
			return nil, fmt.Errorf("journal is inconsistent: expected certificate %d, found %d", r.nextID, cert.ID)
		}
		if ev.Seq != uint64(i)+1 || ev.TokenID != cert.ID || ev.To != cert.Owner || !ev.From.IsZero() {
			return nil, fmt.Errorf("journal is inconsistent: event %d does not record the mint of certificate %d", ev.Seq, cert.ID)
		}
		r.apply(*cert, *ev)
	}

	r.journal = journal
	return r, nil
}

// Name returns the human-readable registry name
func (r *Registry) Name() string {
	return r.params.Name
}

// Symbol returns the registry's short code
func (r *Registry) Symbol() string {
	return r.params.Symbol
}

// Issuer returns the only address allowed to mint
func (r *Registry) Issuer() ethaddr.Address {
	return r.gate.Issuer()
}

// Authorize asks the issuance gate whether caller may mint. Mint performs
// the same check; front ends call this first to refuse before doing any
// other request validation.
func (r *Registry) Authorize(caller ethaddr.Address) error {
	return r.gate.Authorize(caller)
}

// Mint issues a new certificate to owner and returns its id.
// On any error the registry is left exactly as it was.
func (r *Registry) Mint(ctx context.Context, caller, owner ethaddr.Address, metadataURI string, fields models.CredentialFields) (uint64, error) {
	if err := r.gate.Authorize(caller); err != nil {
		return 0, err
	}
	if owner.IsZero() {
		return 0, fmt.Errorf("%w: owner must not be the zero address", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Stored with second precision, like a block timestamp
	now := r.now().UTC().Truncate(time.Second)
	cert := models.Certificate{
		ID:          r.nextID,
		Owner:       owner,
		MetadataURI: metadataURI,
		Fields:      fields,
		MintedAt:    now,
	}
	event := models.TransferEvent{
		Seq:     uint64(len(r.events)) + 1,
		From:    ethaddr.Zero,
		To:      owner,
		TokenID: cert.ID,
		At:      now,
	}

	if r.journal != nil {
		if err := r.journal.AppendMint(ctx, &cert, &event); err != nil {
			return 0, fmt.Errorf("failed to record certificate %d: %w", cert.ID, err)
		}
	}

	r.apply(cert, event)
	return cert.ID, nil
}

// MintPositional is Mint with the credential fields passed one by one
func (r *Registry) MintPositional(
	ctx context.Context,
	caller, owner ethaddr.Address,
	metadataURI string,
	holderName, credentialID, title, issuingBody string,
	issuedAt, completedAt int64,
	hours uint32,
) (uint64, error) {
	return r.Mint(ctx, caller, owner, metadataURI, models.CredentialFields{
		HolderName:   holderName,
		CredentialID: credentialID,
		Title:        title,
		IssuingBody:  issuingBody,
		IssuedAt:     issuedAt,
		CompletedAt:  completedAt,
		Hours:        hours,
	})
}

// apply must be called with the write lock held
func (r *Registry) apply(cert models.Certificate, event models.TransferEvent) {
	r.records = append(r.records, cert)
	r.positions[cert.ID] = len(r.owners[cert.Owner])
	r.owners[cert.Owner] = append(r.owners[cert.Owner], cert.ID)
	r.mintEvent[cert.ID] = len(r.events)
	r.events = append(r.events, event)
	r.nextID++
}

// lookup must be called with the read lock held
func (r *Registry) lookup(id uint64) (*models.Certificate, error) {
	if id == 0 || id > uint64(len(r.records)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &r.records[id-1], nil
}

// Certificate returns a copy of the full record for id
func (r *Registry) Certificate(id uint64) (models.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cert, err := r.lookup(id)
	if err != nil {
		return models.Certificate{}, err
	}
	return *cert, nil
}

// GetDetails returns the credential fields of certificate id
func (r *Registry) GetDetails(id uint64) (models.CredentialFields, error) {
	cert, err := r.Certificate(id)
	if err != nil {
		return models.CredentialFields{}, err
	}
	return cert.Fields, nil
}

// OwnerOf returns the owner of certificate id
func (r *Registry) OwnerOf(id uint64) (ethaddr.Address, error) {
	cert, err := r.Certificate(id)
	if err != nil {
		return ethaddr.Address{}, err
	}
	return cert.Owner, nil
}

// TokenURI returns the opaque metadata URI of certificate id
func (r *Registry) TokenURI(id uint64) (string, error) {
	cert, err := r.Certificate(id)
	if err != nil {
		return "", err
	}
	return cert.MetadataURI, nil
}

// TotalSupply returns the number of certificates minted so far
func (r *Registry) TotalSupply() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.records))
}

// BalanceOf returns how many certificates owner holds
func (r *Registry) BalanceOf(owner ethaddr.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.owners[owner]))
}

// TokenOfOwnerByIndex returns the id at position in owner's holdings,
// in mint order
func (r *Registry) TokenOfOwnerByIndex(owner ethaddr.Address, position uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.owners[owner]
	if position >= uint64(len(ids)) {
		return 0, fmt.Errorf("%w: position %d, balance %d", ErrIndexOutOfBounds, position, len(ids))
	}
	return ids[position], nil
}

// IndexOfToken returns the position of certificate id in its owner's
// holdings, the inverse of TokenOfOwnerByIndex
func (r *Registry) IndexOfToken(id uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return uint64(pos), nil
}

// CertificatesByOwner returns copies of owner's certificates in mint order
func (r *Registry) CertificatesByOwner(owner ethaddr.Address) []models.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.owners[owner]
	out := make([]models.Certificate, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.records[id-1])
	}
	return out
}

// GetAllByOwner returns the credential fields of owner's certificates in
// the same order TokenOfOwnerByIndex enumerates them
func (r *Registry) GetAllByOwner(owner ethaddr.Address) []models.CredentialFields {
	certs := r.CertificatesByOwner(owner)
	out := make([]models.CredentialFields, len(certs))
	for i := range certs {
		out[i] = certs[i].Fields
	}
	return out
}

// Events returns up to limit events with Seq > after, oldest first.
// A non-positive limit returns everything after the cursor.
func (r *Registry) Events(after uint64, limit int) []models.TransferEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if after >= uint64(len(r.events)) {
		return []models.TransferEvent{}
	}
	tail := r.events[after:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	return append([]models.TransferEvent(nil), tail...)
}

// EventsTo returns every event that moved a certificate to owner
func (r *Registry) EventsTo(owner ethaddr.Address) []models.TransferEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.owners[owner]
	out := make([]models.TransferEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.events[r.mintEvent[id]])
	}
	return out
}

// MintEvent returns the creation event of certificate id
func (r *Registry) MintEvent(id uint64) (models.TransferEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.mintEvent[id]
	if !ok {
		return models.TransferEvent{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return r.events[idx], nil
}
