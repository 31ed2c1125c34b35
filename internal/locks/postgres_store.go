package locks

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow holds in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed lock store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the locked_amounts table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS locked_amounts (
			id              VARCHAR(36) PRIMARY KEY,
			user_id         VARCHAR(64) NOT NULL,
			amount          NUMERIC(20,2) NOT NULL,
			lock_reason     VARCHAR(255) NOT NULL,
			reference_id    VARCHAR(64),
			locked_until    TIMESTAMPTZ,
			status          VARCHAR(20) NOT NULL DEFAULT 'active',
			release_reason  VARCHAR(255),
			resolved_at     TIMESTAMPTZ,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_locks_user ON locked_amounts(user_id);
		CREATE INDEX IF NOT EXISTS idx_locks_reference ON locked_amounts(reference_id) WHERE status = 'active';
		CREATE INDEX IF NOT EXISTS idx_locks_expiry ON locked_amounts(locked_until) WHERE status = 'active';
	`)
	return err
}

const lockColumns = `id, user_id, amount, lock_reason, reference_id, locked_until,
		       status, release_reason, resolved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLock(row rowScanner) (*Lock, error) {
	l := &Lock{}
	var referenceID, releaseReason sql.NullString
	var lockedUntil, resolvedAt sql.NullTime
	err := row.Scan(&l.ID, &l.UserID, &l.Amount, &l.Reason, &referenceID, &lockedUntil,
		&l.Status, &releaseReason, &resolvedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.ReferenceID = referenceID.String
	l.ReleaseReason = releaseReason.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		l.LockedUntil = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		l.ResolvedAt = &t
	}
	return l, nil
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

func (p *PostgresStore) Create(ctx context.Context, lock *Lock) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO locked_amounts (
			id, user_id, amount, lock_reason, reference_id, locked_until,
			status, release_reason, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		lock.ID, lock.UserID, lock.Amount, lock.Reason,
		nullString(lock.ReferenceID), nullTime(lock.LockedUntil),
		string(lock.Status), nullString(lock.ReleaseReason), nullTime(lock.ResolvedAt),
		lock.CreatedAt, lock.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Lock, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM locked_amounts WHERE id = $1`, id)
	lock, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, ErrLockNotFound
	}
	return lock, err
}

func (p *PostgresStore) Update(ctx context.Context, lock *Lock) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE locked_amounts SET
			status = $1, release_reason = $2, resolved_at = $3, updated_at = $4
		WHERE id = $5`,
		string(lock.Status), nullString(lock.ReleaseReason), nullTime(lock.ResolvedAt),
		lock.UpdatedAt, lock.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLockNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Lock, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+lockColumns+`
		FROM locked_amounts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocks(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Lock, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+lockColumns+`
		FROM locked_amounts
		WHERE status = 'active' AND locked_until IS NOT NULL AND locked_until <= $1
		ORDER BY locked_until
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocks(rows)
}

func (p *PostgresStore) ListActiveByReference(ctx context.Context, referenceID string) ([]*Lock, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+lockColumns+`
		FROM locked_amounts
		WHERE status = 'active' AND reference_id = $1
		ORDER BY created_at`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocks(rows)
}

func collectLocks(rows *sql.Rows) ([]*Lock, error) {
	var result []*Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, lock)
	}
	return result, rows.Err()
}
