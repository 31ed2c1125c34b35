package disputes

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the disputes table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS disputes (
			id                VARCHAR(36) PRIMARY KEY,
			lock_id           VARCHAR(36) NOT NULL,
			user_id           VARCHAR(64) NOT NULL,
			reason            VARCHAR(255) NOT NULL,
			initiator         VARCHAR(64) NOT NULL,
			description       TEXT,
			status            VARCHAR(20) NOT NULL DEFAULT 'open',
			resolution        VARCHAR(30),
			resolved_by       VARCHAR(64),
			resolution_reason VARCHAR(255),
			buyer_amount      NUMERIC(20,2),
			seller_amount     NUMERIC(20,2),
			resolved_at       TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_disputes_lock ON disputes(lock_id);
		CREATE INDEX IF NOT EXISTS idx_disputes_user ON disputes(user_id);
	`)
	return err
}

const disputeColumns = `id, lock_id, user_id, reason, initiator, description,
		       status, resolution, resolved_by, resolution_reason,
		       buyer_amount, seller_amount, resolved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	d := &Dispute{}
	var description, resolution, resolvedBy, resolutionReason sql.NullString
	var buyerAmount, sellerAmount decimal.NullDecimal
	var resolvedAt sql.NullTime
	err := row.Scan(&d.ID, &d.LockID, &d.UserID, &d.Reason, &d.Initiator, &description,
		&d.Status, &resolution, &resolvedBy, &resolutionReason,
		&buyerAmount, &sellerAmount, &resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Description = description.String
	d.Resolution = resolution.String
	d.ResolvedBy = resolvedBy.String
	d.ResolutionReason = resolutionReason.String
	if buyerAmount.Valid {
		v := buyerAmount.Decimal
		d.BuyerAmount = &v
	}
	if sellerAmount.Valid {
		v := sellerAmount.Decimal
		d.SellerAmount = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, lock_id, user_id, reason, initiator, description,
			status, resolution, resolved_by, resolution_reason,
			buyer_amount, seller_amount, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.LockID, d.UserID, d.Reason, d.Initiator, nullString(d.Description),
		string(d.Status), nullString(d.Resolution), nullString(d.ResolvedBy),
		nullString(d.ResolutionReason), nullDecimal(d.BuyerAmount), nullDecimal(d.SellerAmount),
		nullTime(d.ResolvedAt), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = $2, resolved_by = $3, resolution_reason = $4,
			buyer_amount = $5, seller_amount = $6, resolved_at = $7, updated_at = $8
		WHERE id = $9`,
		string(d.Status), nullString(d.Resolution), nullString(d.ResolvedBy),
		nullString(d.ResolutionReason), nullDecimal(d.BuyerAmount), nullDecimal(d.SellerAmount),
		nullTime(d.ResolvedAt), d.UpdatedAt, d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByLock(ctx context.Context, lockID string) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE lock_id = $1
		ORDER BY created_at`, lockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
