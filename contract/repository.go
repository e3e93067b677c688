package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository interface {
	FeeSummer
	Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Contract, error)
	Update(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	Get(ctx context.Context, id int64) (Contract, error)
	List(ctx context.Context, filter ListFilter) ([]Contract, error)
	Counts(ctx context.Context, userID int64) (Counts, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `id, title, description, transaction_type, creator_id, buyer_id, seller_id,
       buyer_mobile, seller_mobile, fee_amount, fees_paid_by, commission_rate, tax_rate,
       escrow_tax, tax_amount, buyer_payable_amount, seller_payable_amount, status, status_reason,
       escrow_status_updated_at, is_active, is_deleted, created_at, created_by, last_modified_at, last_modified_by`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	const q = `
INSERT INTO contracts (title, description, transaction_type, creator_id, buyer_id, seller_id,
                       buyer_mobile, seller_mobile, fee_amount, fees_paid_by, commission_rate, tax_rate,
                       escrow_tax, tax_amount, buyer_payable_amount, seller_payable_amount, status,
                       is_active, created_by, last_modified_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
RETURNING ` + selectColumns
	out, err := scanContract(tx.QueryRow(ctx, q,
		c.Title, c.Description, c.TransactionType, c.CreatorID, c.BuyerID, c.SellerID,
		c.BuyerMobile, c.SellerMobile, c.FeeAmount, c.FeesPaidBy, c.CommissionRate, c.TaxRate,
		c.EscrowTax, c.TaxAmount, c.BuyerPayableAmount, c.SellerPayableAmount, c.Status,
		c.IsActive, c.CreatedBy,
	))
	if err != nil {
		return Contract{}, fmt.Errorf("contract: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Contract, error) {
	const q = `SELECT ` + selectColumns + ` FROM contracts WHERE id = $1 AND NOT is_deleted FOR UPDATE`
	out, err := scanContract(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: lock: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Contract, error) {
	const q = `SELECT ` + selectColumns + ` FROM contracts WHERE id = $1 AND NOT is_deleted`
	out, err := scanContract(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: get: %w", err)
	}
	return out, nil
}

// Update writes every mutable column. The escrow timestamp is COALESCEd so a
// stored value is never replaced.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	const q = `
UPDATE contracts
SET title = $2,
    description = $3,
    transaction_type = $4,
    buyer_id = $5,
    seller_id = $6,
    buyer_mobile = $7,
    seller_mobile = $8,
    fee_amount = $9,
    fees_paid_by = $10,
    commission_rate = $11,
    tax_rate = $12,
    escrow_tax = $13,
    tax_amount = $14,
    buyer_payable_amount = $15,
    seller_payable_amount = $16,
    status = $17,
    status_reason = $18,
    escrow_status_updated_at = COALESCE(escrow_status_updated_at, $19),
    is_active = $20,
    is_deleted = $21,
    last_modified_at = now(),
    last_modified_by = $22
WHERE id = $1
RETURNING ` + selectColumns
	out, err := scanContract(tx.QueryRow(ctx, q,
		c.ID, c.Title, c.Description, c.TransactionType, c.BuyerID, c.SellerID,
		c.BuyerMobile, c.SellerMobile, c.FeeAmount, c.FeesPaidBy, c.CommissionRate, c.TaxRate,
		c.EscrowTax, c.TaxAmount, c.BuyerPayableAmount, c.SellerPayableAmount,
		c.Status, c.StatusReason, c.EscrowStatusUpdatedAt, c.IsActive, c.IsDeleted, c.LastModifiedBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: update: %w", err)
	}
	return out, nil
}

// SumCreatorFees totals every contract the creator created in [from, to].
func (r *PGRepository) SumCreatorFees(ctx context.Context, tx pgx.Tx, creatorID int64, from, to time.Time) (decimal.Decimal, error) {
	const q = `
SELECT COALESCE(SUM(fee_amount), 0)
FROM contracts
WHERE creator_id = $1 AND created_at >= $2 AND created_at <= $3
`
	var sum decimal.Decimal
	if err := tx.QueryRow(ctx, q, creatorID, from, to).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("contract: sum creator fees: %w", err)
	}
	return sum, nil
}

func (r *PGRepository) LockCreator(ctx context.Context, tx pgx.Tx, creatorID int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, creatorID); err != nil {
		return fmt.Errorf("contract: lock creator: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Contract, error) {
	page, size := pageBounds(filter.Page, filter.PageSize)
	const q = `
SELECT ` + selectColumns + `
FROM contracts
WHERE NOT is_deleted
  AND ($1::bigint = 0 OR creator_id = $1 OR buyer_id = $1 OR seller_id = $1)
  AND ($2::text = '' OR status = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`
	rows, err := r.pool.Query(ctx, q, filter.UserID, string(filter.Status), size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	out := make([]Contract, 0, size)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("contract: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Counts(ctx context.Context, userID int64) (Counts, error) {
	const q = `
SELECT status, is_active, COUNT(*)
FROM contracts
WHERE NOT is_deleted
  AND ($1::bigint = 0 OR creator_id = $1 OR buyer_id = $1 OR seller_id = $1)
GROUP BY status, is_active
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return Counts{}, fmt.Errorf("contract: counts: %w", err)
	}
	defer rows.Close()

	var groups []countGroup
	for rows.Next() {
		var g countGroup
		if err := rows.Scan(&g.status, &g.active, &g.n); err != nil {
			return Counts{}, fmt.Errorf("contract: scan counts: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("contract: iterate counts: %w", err)
	}
	return tally(groups), nil
}

type countGroup struct {
	status Status
	active bool
	n      int64
}

// tally folds grouped rows into dashboard counters. Soft-terminal and
// suspended contracts count as inactive.
func tally(groups []countGroup) Counts {
	out := Counts{ByStatus: make(map[Status]int64, len(allStatuses))}
	for _, s := range allStatuses {
		out.ByStatus[s] = 0
	}
	for _, g := range groups {
		out.Total += g.n
		out.ByStatus[g.status] += g.n
		if g.active && !g.status.Terminal() {
			out.Active += g.n
		} else {
			out.Inactive += g.n
		}
	}
	return out
}

func pageBounds(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.TransactionType,
		&c.CreatorID,
		&c.BuyerID,
		&c.SellerID,
		&c.BuyerMobile,
		&c.SellerMobile,
		&c.FeeAmount,
		&c.FeesPaidBy,
		&c.CommissionRate,
		&c.TaxRate,
		&c.EscrowTax,
		&c.TaxAmount,
		&c.BuyerPayableAmount,
		&c.SellerPayableAmount,
		&c.Status,
		&c.StatusReason,
		&c.EscrowStatusUpdatedAt,
		&c.IsActive,
		&c.IsDeleted,
		&c.CreatedAt,
		&c.CreatedBy,
		&c.LastModifiedAt,
		&c.LastModifiedBy,
	)
	return c, err
}
