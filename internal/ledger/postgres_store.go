package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallet and ledger tables with NUMERIC columns
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id      VARCHAR(64) PRIMARY KEY,
			available    NUMERIC(20,2) NOT NULL DEFAULT 0,
			locked       NUMERIC(20,2) NOT NULL DEFAULT 0,
			negative     NUMERIC(20,2) NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_available_nonneg CHECK (available >= 0),
			CONSTRAINT chk_locked_nonneg    CHECK (locked >= 0),
			CONSTRAINT chk_negative_nonneg  CHECK (negative >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id              VARCHAR(36) PRIMARY KEY,
			user_id         VARCHAR(64) NOT NULL,
			type            VARCHAR(20) NOT NULL,
			amount          NUMERIC(20,2) NOT NULL,
			balance_after   NUMERIC(20,2) NOT NULL,
			reference_type  VARCHAR(40),
			reference_id    VARCHAR(64),
			external_tx_id  VARCHAR(128),
			description     TEXT,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_entries_user ON ledger_entries(user_id);
		CREATE INDEX IF NOT EXISTS idx_entries_reference ON ledger_entries(reference_type, reference_id);
		CREATE INDEX IF NOT EXISTS idx_entries_created ON ledger_entries(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	w := &Wallet{UserID: userID}
	err := p.db.QueryRowContext(ctx, `
		SELECT available, locked, negative, created_at, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.Available, &w.Locked, &w.Negative, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		now := time.Now().UTC()
		return &Wallet{
			UserID:    userID,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			Negative:  decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// lockWallet upserts the wallet row and locks it for the duration of
// the transaction.
func lockWallet(ctx context.Context, tx *sql.Tx, userID string) (*Wallet, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	w := &Wallet{UserID: userID}
	err = tx.QueryRowContext(ctx, `
		SELECT available, locked, negative, created_at, updated_at
		FROM wallets WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&w.Available, &w.Locked, &w.Negative, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return w, nil
}

func saveWallet(ctx context.Context, tx *sql.Tx, w *Wallet) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			available  = $2,
			locked     = $3,
			negative   = $4,
			updated_at = NOW()
		WHERE user_id = $1
	`, w.UserID, w.Available, w.Locked, w.Negative)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, user_id, type, amount, balance_after, reference_type, reference_id, external_tx_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.UserID, e.Type, e.Amount, e.BalanceAfter,
		e.ReferenceType, e.ReferenceID, e.ExternalTxID, e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Apply(ctx context.Context, userID string, fn func(w *Wallet) (*Entry, error)) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := lockWallet(ctx, tx, userID)
	if err != nil {
		return err
	}

	entry, err := fn(w)
	if err != nil {
		return err
	}

	if err := saveWallet(ctx, tx, w); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ApplyTransfer(ctx context.Context, fromUserID, toUserID string, fn func(from, to *Wallet) ([]*Entry, error)) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock rows in canonical order to avoid deadlock between
	// opposing transfers.
	first, second := fromUserID, toUserID
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]*Wallet, 2)
	for _, id := range []string{first, second} {
		w, err := lockWallet(ctx, tx, id)
		if err != nil {
			return err
		}
		locked[id] = w
	}

	entries, err := fn(locked[fromUserID], locked[toUserID])
	if err != nil {
		return err
	}

	for _, w := range locked {
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, balance_after,
		       COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		       COALESCE(external_tx_id, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter,
			&e.ReferenceType, &e.ReferenceID, &e.ExternalTxID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) ListEntriesPage(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after,
		       COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		       COALESCE(external_tx_id, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1`
	args := []any{userID}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter,
			&e.ReferenceType, &e.ReferenceID, &e.ExternalTxID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) FindEntryByReference(ctx context.Context, referenceType, referenceID string, entryType EntryType) (*Entry, error) {
	e := &Entry{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, balance_after,
		       COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		       COALESCE(external_tx_id, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2 AND type = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, referenceType, referenceID, entryType).Scan(
		&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter,
		&e.ReferenceType, &e.ReferenceID, &e.ExternalTxID, &e.Description, &e.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entry: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) SumBalances(ctx context.Context) (available, locked, negative decimal.Decimal, err error) {
	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(available), 0), COALESCE(SUM(locked), 0), COALESCE(SUM(negative), 0)
		FROM wallets
	`).Scan(&available, &locked, &negative)
	if err != nil {
		err = fmt.Errorf("failed to sum balances: %w", err)
	}
	return available, locked, negative, err
}
