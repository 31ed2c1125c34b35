package settlement

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists scheduled settlements in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the scheduled_settlements table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scheduled_settlements (
			id                VARCHAR(36) PRIMARY KEY,
			seller_id         VARCHAR(64) NOT NULL,
			order_amount      NUMERIC(20,2) NOT NULL,
			commission_rate   NUMERIC(8,4) NOT NULL DEFAULT 0,
			commission_amount NUMERIC(20,2) NOT NULL DEFAULT 0,
			platform_fees     NUMERIC(20,2) NOT NULL DEFAULT 0,
			net_amount        NUMERIC(20,2) NOT NULL,
			tier              VARCHAR(20) NOT NULL,
			reference_id      VARCHAR(64),
			scheduled_date    TIMESTAMPTZ NOT NULL,
			status            VARCHAR(20) NOT NULL DEFAULT 'scheduled',
			failure_reason    VARCHAR(500),
			processed_at      TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_settlements_seller ON scheduled_settlements(seller_id);
		CREATE INDEX IF NOT EXISTS idx_settlements_due ON scheduled_settlements(scheduled_date) WHERE status = 'scheduled';
	`)
	return err
}

const settlementColumns = `id, seller_id, order_amount, commission_rate, commission_amount,
		       platform_fees, net_amount, tier, reference_id, scheduled_date,
		       status, failure_reason, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*Settlement, error) {
	s := &Settlement{}
	var referenceID, failureReason sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&s.ID, &s.SellerID, &s.OrderAmount, &s.CommissionRate, &s.CommissionAmount,
		&s.PlatformFees, &s.NetAmount, &s.Tier, &referenceID, &s.ScheduledDate,
		&s.Status, &failureReason, &processedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ReferenceID = referenceID.String
	s.FailureReason = failureReason.String
	if processedAt.Valid {
		t := processedAt.Time
		s.ProcessedAt = &t
	}
	return s, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *PostgresStore) Create(ctx context.Context, s *Settlement) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scheduled_settlements (
			id, seller_id, order_amount, commission_rate, commission_amount,
			platform_fees, net_amount, tier, reference_id, scheduled_date,
			status, failure_reason, processed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.SellerID, s.OrderAmount, s.CommissionRate, s.CommissionAmount,
		s.PlatformFees, s.NetAmount, string(s.Tier), nullString(s.ReferenceID), s.ScheduledDate,
		string(s.Status), nullString(s.FailureReason), nullTime(s.ProcessedAt),
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Settlement, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM scheduled_settlements WHERE id = $1`, id)
	s, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, ErrSettlementNotFound
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s *Settlement) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_settlements SET
			status = $1, failure_reason = $2, processed_at = $3, updated_at = $4
		WHERE id = $5`,
		string(s.Status), nullString(s.FailureReason), nullTime(s.ProcessedAt),
		s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Settlement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM scheduled_settlements
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSettlements(rows)
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Settlement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM scheduled_settlements
		WHERE status = 'scheduled' AND scheduled_date <= $1
		ORDER BY scheduled_date
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSettlements(rows)
}

func collectSettlements(rows *sql.Rows) ([]*Settlement, error) {
	var result []*Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
