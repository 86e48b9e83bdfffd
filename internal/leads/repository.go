// Package leads provides the lead bounded context: the per-lead flags the
// scenario resolver mutates and the processed marker that separates
// historical context from genuinely new triggers.
package leads

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

// Lead is a captured inbound sales lead. Leads are created on first
// sighting and never deleted.
type Lead struct {
	ID          uuid.UUID
	BusinessID  uuid.UUID
	PhoneKnown  bool
	PhoneNumber *string
	PhoneOptIn  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository provides data access for leads and processed markers.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate fetches the lead, inserting it on first sighting. The
// returned bool reports whether the lead was created by this call.
func (r *Repository) GetOrCreate(ctx context.Context, leadID, businessID uuid.UUID) (Lead, bool, error) {
	var lead Lead
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, business_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, business_id, phone_known, phone_number, phone_opt_in, created_at, updated_at
	`, leadID, businessID).Scan(
		&lead.ID, &lead.BusinessID, &lead.PhoneKnown, &lead.PhoneNumber,
		&lead.PhoneOptIn, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err == nil {
		return lead, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, false, err
	}

	lead, err = r.GetByID(ctx, leadID)
	return lead, false, err
}

// GetByID fetches a lead by id.
func (r *Repository) GetByID(ctx context.Context, leadID uuid.UUID) (Lead, error) {
	var lead Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_id, phone_known, phone_number, phone_opt_in, created_at, updated_at
		FROM leads
		WHERE id = $1
	`, leadID).Scan(
		&lead.ID, &lead.BusinessID, &lead.PhoneKnown, &lead.PhoneNumber,
		&lead.PhoneOptIn, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

// SetPhone records a discovered phone number on the lead.
func (r *Repository) SetPhone(ctx context.Context, leadID uuid.UUID, number string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET phone_known = TRUE, phone_number = $2, updated_at = now()
		WHERE id = $1
	`, leadID, number)
	return err
}

// SetPhoneOptIn flags the lead as having opted in to phone contact.
// The flag is display-only; it carries no scenario branching weight.
func (r *Repository) SetPhoneOptIn(ctx context.Context, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET phone_opt_in = TRUE, updated_at = now()
		WHERE id = $1
	`, leadID)
	return err
}

// ProcessedAt returns the lead's processed-marker timestamp, or nil when
// the lead has not yet been fully processed.
func (r *Repository) ProcessedAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT processed_at FROM processed_lead_markers WHERE lead_id = $1
	`, leadID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// MarkProcessed writes the processed marker. The first write wins; the
// marker is never updated afterwards.
func (r *Repository) MarkProcessed(ctx context.Context, leadID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO processed_lead_markers (lead_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (lead_id) DO NOTHING
	`, leadID, at)
	return err
}
