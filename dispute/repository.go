package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, d Record) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Record, error)
	Update(ctx context.Context, tx pgx.Tx, d Record) (Record, error)
	List(ctx context.Context, contractID int64) ([]Record, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `id, contract_id, dispute_raised_by, dispute_reason, dispute_description, dispute_doc,
       status, release_to, release_amount, buyer_note, seller_note, dispute_date_time, resolved_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, d Record) (Record, error) {
	const q = `
INSERT INTO disputes (contract_id, dispute_raised_by, dispute_reason, dispute_description, dispute_doc, status, dispute_date_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + selectColumns
	out, err := scanRecord(tx.QueryRow(ctx, q,
		d.ContractID, d.DisputeRaisedBy, d.DisputeReason, d.DisputeDescription, d.DisputeDoc, d.Status, d.DisputeDateTime,
	))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Record, error) {
	const q = `SELECT ` + selectColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	out, err := scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, d Record) (Record, error) {
	const q = `
UPDATE disputes
SET status = $2,
    release_to = $3,
    release_amount = $4,
    buyer_note = $5,
    seller_note = $6,
    resolved_at = $7,
    updated_at = now()
WHERE id = $1
RETURNING ` + selectColumns
	out, err := scanRecord(tx.QueryRow(ctx, q,
		d.ID, d.Status, d.ReleaseTo, d.ReleaseAmount, d.BuyerNote, d.SellerNote, d.ResolvedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: update: %w", err)
	}
	return out, nil
}

func (r *PGRepository) List(ctx context.Context, contractID int64) ([]Record, error) {
	const q = `SELECT ` + selectColumns + ` FROM disputes WHERE contract_id = $1 ORDER BY dispute_date_time DESC, id DESC`
	rows, err := r.pool.Query(ctx, q, contractID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var d Record
	err := row.Scan(
		&d.ID,
		&d.ContractID,
		&d.DisputeRaisedBy,
		&d.DisputeReason,
		&d.DisputeDescription,
		&d.DisputeDoc,
		&d.Status,
		&d.ReleaseTo,
		&d.ReleaseAmount,
		&d.BuyerNote,
		&d.SellerNote,
		&d.DisputeDateTime,
		&d.ResolvedAt,
		&d.UpdatedAt,
	)
	return d, err
}
