package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists withdrawal requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the withdrawal_requests table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id                  VARCHAR(36) PRIMARY KEY,
			user_id             VARCHAR(64) NOT NULL,
			amount              NUMERIC(20,2) NOT NULL,
			method              VARCHAR(20) NOT NULL,
			beneficiary_name    VARCHAR(255),
			account_number      VARCHAR(64),
			ifsc                VARCHAR(20),
			upi_address         VARCHAR(255),
			lock_id             VARCHAR(36) NOT NULL,
			status              VARCHAR(20) NOT NULL DEFAULT 'pending',
			gateway_transfer_id VARCHAR(128),
			failure_reason      VARCHAR(500),
			processed_at        TIMESTAMPTZ,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawal_requests(user_id, created_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_withdrawals_gateway_transfer
			ON withdrawal_requests(gateway_transfer_id) WHERE gateway_transfer_id IS NOT NULL;
	`)
	return err
}

const withdrawalColumns = `id, user_id, amount, method, beneficiary_name, account_number,
		       ifsc, upi_address, lock_id, status, gateway_transfer_id,
		       failure_reason, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	r := &Request{}
	var name, account, ifsc, upi, transferID, failureReason sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.Amount, &r.Method, &name, &account,
		&ifsc, &upi, &r.LockID, &r.Status, &transferID,
		&failureReason, &processedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Destination = Destination{
		Name:          name.String,
		AccountNumber: account.String,
		IFSC:          ifsc.String,
		UPIAddress:    upi.String,
	}
	r.GatewayTransferID = transferID.String
	r.FailureReason = failureReason.String
	if processedAt.Valid {
		t := processedAt.Time
		r.ProcessedAt = &t
	}
	return r, nil
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

func (p *PostgresStore) Create(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (
			id, user_id, amount, method, beneficiary_name, account_number,
			ifsc, upi_address, lock_id, status, gateway_transfer_id,
			failure_reason, processed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.UserID, r.Amount, r.Method,
		nullString(r.Destination.Name), nullString(r.Destination.AccountNumber),
		nullString(r.Destination.IFSC), nullString(r.Destination.UPIAddress),
		r.LockID, r.Status, nullString(r.GatewayTransferID),
		nullString(r.FailureReason), nullTime(r.ProcessedAt), r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	return r, err
}

func (p *PostgresStore) GetByGatewayTransferID(ctx context.Context, transferID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE gateway_transfer_id = $1`, transferID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	return r, err
}

func (p *PostgresStore) Update(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, gateway_transfer_id = $3, failure_reason = $4,
		    processed_at = $5, updated_at = $6
		WHERE id = $1`,
		r.ID, r.Status, nullString(r.GatewayTransferID), nullString(r.FailureReason),
		nullTime(r.ProcessedAt), r.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (p *PostgresStore) SumRequestedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
		WHERE user_id = $1 AND status != 'failed' AND created_at >= $2`,
		userID, since).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	var result []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
