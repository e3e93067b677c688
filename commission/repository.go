package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the data access the service needs. Writers run inside the
// caller's transaction after LockForWrite.
type Repository interface {
	LockForWrite(ctx context.Context, tx pgx.Tx) error
	ListTx(ctx context.Context, tx pgx.Tx) ([]Commission, error)
	Insert(ctx context.Context, tx pgx.Tx, c Commission) (Commission, error)
	Update(ctx context.Context, tx pgx.Tx, c Commission) (Commission, error)
	SetGlobal(ctx context.Context, tx pgx.Tx, id int64) error
	Delete(ctx context.Context, tx pgx.Tx, id int64) error
	List(ctx context.Context) ([]Commission, error)
	Candidates(ctx context.Context, transactionType string) ([]Commission, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `id, transaction_type, commission_rate, tax_rate, applied_globally, min_amount, created_at, updated_at`

// LockForWrite serializes commission writers so the global-flag checks and the
// write they guard see one consistent table.
func (r *PGRepository) LockForWrite(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `LOCK TABLE commission_masters IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("commission: lock: %w", err)
	}
	return nil
}

func (r *PGRepository) ListTx(ctx context.Context, tx pgx.Tx) ([]Commission, error) {
	return collect(tx.Query(ctx, `SELECT `+selectColumns+` FROM commission_masters ORDER BY id`))
}

func (r *PGRepository) List(ctx context.Context) ([]Commission, error) {
	return collect(r.pool.Query(ctx, `SELECT `+selectColumns+` FROM commission_masters ORDER BY id`))
}

// Candidates returns the rows that can apply to a transaction type: the
// type-specific row and the global row.
func (r *PGRepository) Candidates(ctx context.Context, transactionType string) ([]Commission, error) {
	const q = `SELECT ` + selectColumns + ` FROM commission_masters
WHERE applied_globally OR lower(transaction_type) = lower($1)
ORDER BY id`
	return collect(r.pool.Query(ctx, q, transactionType))
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, c Commission) (Commission, error) {
	const q = `
INSERT INTO commission_masters (transaction_type, commission_rate, tax_rate, applied_globally, min_amount)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + selectColumns
	out, err := scanCommission(tx.QueryRow(ctx, q, c.TransactionType, c.CommissionRate, c.TaxRate, c.AppliedGlobally, c.MinAmount))
	if err != nil {
		if isUniqueViolation(err) {
			return Commission{}, ErrDuplicateTransactionType
		}
		return Commission{}, fmt.Errorf("commission: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, c Commission) (Commission, error) {
	const q = `
UPDATE commission_masters
SET transaction_type = $2,
    commission_rate = $3,
    tax_rate = $4,
    applied_globally = $5,
    min_amount = $6,
    updated_at = now()
WHERE id = $1
RETURNING ` + selectColumns
	out, err := scanCommission(tx.QueryRow(ctx, q, c.ID, c.TransactionType, c.CommissionRate, c.TaxRate, c.AppliedGlobally, c.MinAmount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return Commission{}, ErrDuplicateTransactionType
		}
		return Commission{}, fmt.Errorf("commission: update: %w", err)
	}
	return out, nil
}

// SetGlobal flips every row in one statement so no reader observes zero or two
// global rows.
func (r *PGRepository) SetGlobal(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `
UPDATE commission_masters
SET applied_globally = (id = $1),
    updated_at = now()
WHERE applied_globally OR id = $1
`, id)
	if err != nil {
		return fmt.Errorf("commission: set global: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM commission_masters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("commission: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collect(rows pgx.Rows, err error) ([]Commission, error) {
	if err != nil {
		return nil, fmt.Errorf("commission: query: %w", err)
	}
	defer rows.Close()

	out := make([]Commission, 0, 8)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("commission: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission: iterate: %w", err)
	}
	return out, nil
}

func scanCommission(row pgx.Row) (Commission, error) {
	var c Commission
	err := row.Scan(
		&c.ID,
		&c.TransactionType,
		&c.CommissionRate,
		&c.TaxRate,
		&c.AppliedGlobally,
		&c.MinAmount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
