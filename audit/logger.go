// Package audit appends before/after snapshots of every contract mutation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Logger writes contract_details_logs rows. Record must run inside the caller's
// transaction so the log row commits with the mutation it describes.
type Logger struct {
	pool  *pgxpool.Pool
	idGen func() string
}

func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{
		pool:  pool,
		idGen: func() string { return uuid.NewString() },
	}
}

func (l *Logger) Record(ctx context.Context, tx pgx.Tx, params RecordParams) (Entry, error) {
	if params.ContractID <= 0 {
		return Entry{}, fmt.Errorf("audit: missing contract id")
	}
	if params.Operation != OperationCreate && params.Operation != OperationUpdate {
		return Entry{}, fmt.Errorf("audit: invalid operation %q", params.Operation)
	}
	if params.New == nil {
		return Entry{}, fmt.Errorf("audit: missing new snapshot")
	}

	newData, err := json.Marshal(params.New)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal new snapshot: %w", err)
	}
	var previous []byte
	if params.Previous != nil {
		previous, err = json.Marshal(params.Previous)
		if err != nil {
			return Entry{}, fmt.Errorf("audit: marshal previous snapshot: %w", err)
		}
	}

	var actor any
	if params.ActorID > 0 {
		actor = params.ActorID
	}

	const q = `
INSERT INTO contract_details_logs (contract_id, operation, previous_data, new_data, actor_id, source, remark, correlation_id)
VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7, $8::uuid)
RETURNING id, contract_id, operation, previous_data, new_data, actor_id, source, remark, correlation_id::text, created_at
`
	entry, err := scanEntry(tx.QueryRow(ctx, q,
		params.ContractID,
		params.Operation,
		nullableJSON(previous),
		newData,
		actor,
		params.Source,
		params.Remark,
		l.idGen(),
	))
	if err != nil {
		return Entry{}, fmt.Errorf("audit: insert log: %w", err)
	}
	return entry, nil
}

// List returns the log rows for a contract, oldest first.
func (l *Logger) List(ctx context.Context, contractID int64) ([]Entry, error) {
	const q = `
SELECT id, contract_id, operation, previous_data, new_data, actor_id, source, remark, correlation_id::text, created_at
FROM contract_details_logs
WHERE contract_id = $1
ORDER BY id ASC
`
	rows, err := l.pool.Query(ctx, q, contractID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 8)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e        Entry
		previous []byte
		newData  []byte
	)
	if err := row.Scan(&e.ID, &e.ContractID, &e.Operation, &previous, &newData, &e.ActorID, &e.Source, &e.Remark, &e.CorrelationID, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	if previous != nil {
		e.PreviousData = json.RawMessage(previous)
	}
	e.NewData = json.RawMessage(newData)
	return e, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
