package milestone

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	ListTx(ctx context.Context, tx pgx.Tx, contractID int64) ([]Milestone, error)
	List(ctx context.Context, contractID int64) ([]Milestone, error)
	Insert(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error)
	Update(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error)
	Delete(ctx context.Context, tx pgx.Tx, contractID, id int64) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `id, contract_id, name, amount, description, due_date, documents, status,
       milestone_escrow_amount, milestone_tax_amount, created_at, updated_at`

func (r *PGRepository) ListTx(ctx context.Context, tx pgx.Tx, contractID int64) ([]Milestone, error) {
	const q = `SELECT ` + selectColumns + ` FROM milestones WHERE contract_id = $1 ORDER BY id FOR UPDATE`
	return collect(tx.Query(ctx, q, contractID))
}

func (r *PGRepository) List(ctx context.Context, contractID int64) ([]Milestone, error) {
	const q = `SELECT ` + selectColumns + ` FROM milestones WHERE contract_id = $1 ORDER BY id`
	return collect(r.pool.Query(ctx, q, contractID))
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error) {
	const q = `
INSERT INTO milestones (contract_id, name, amount, description, due_date, documents, status,
                        milestone_escrow_amount, milestone_tax_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + selectColumns
	out, err := scanMilestone(tx.QueryRow(ctx, q,
		m.ContractID, m.Name, m.Amount, m.Description, m.DueDate, documents(m.Documents), m.Status,
		m.MilestoneEscrowAmount, m.MilestoneTaxAmount,
	))
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error) {
	const q = `
UPDATE milestones
SET name = $3,
    amount = $4,
    description = $5,
    due_date = $6,
    documents = $7,
    status = $8,
    milestone_escrow_amount = $9,
    milestone_tax_amount = $10,
    updated_at = now()
WHERE id = $1 AND contract_id = $2
RETURNING ` + selectColumns
	out, err := scanMilestone(tx.QueryRow(ctx, q,
		m.ID, m.ContractID, m.Name, m.Amount, m.Description, m.DueDate, documents(m.Documents), m.Status,
		m.MilestoneEscrowAmount, m.MilestoneTaxAmount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: update: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, contractID, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM milestones WHERE id = $1 AND contract_id = $2`, id, contractID)
	if err != nil {
		return fmt.Errorf("milestone: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collect(rows pgx.Rows, err error) ([]Milestone, error) {
	if err != nil {
		return nil, fmt.Errorf("milestone: query: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 4)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("milestone: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate: %w", err)
	}
	return out, nil
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var m Milestone
	err := row.Scan(
		&m.ID,
		&m.ContractID,
		&m.Name,
		&m.Amount,
		&m.Description,
		&m.DueDate,
		&m.Documents,
		&m.Status,
		&m.MilestoneEscrowAmount,
		&m.MilestoneTaxAmount,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func documents(docs []string) []string {
	if docs == nil {
		return []string{}
	}
	return docs
}
