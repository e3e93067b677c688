// Package fakedb provides transaction doubles for service unit tests that do
// not need a live PostgreSQL.
package fakedb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out Tx values and remembers them for assertions.
type Pool struct {
	BeginErr  error
	CommitErr error
	Txs       []*Tx
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{commitErr: p.CommitErr}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recently started transaction, or nil.
func (p *Pool) Last() *Tx {
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

// Committed counts transactions that reached Commit successfully.
func (p *Pool) Committed() int {
	n := 0
	for _, tx := range p.Txs {
		if tx.Committed {
			n++
		}
	}
	return n
}

// Tx records commit/rollback. Commit hooks let fakes stage writes and only
// publish them when the transaction commits.
type Tx struct {
	Committed  bool
	RolledBack bool
	Execs      []string

	commitErr error
	onCommit  []func()
}

// OnCommit registers fn to run when the transaction commits.
func (t *Tx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakedb: nested transactions not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.RolledBack {
		return pgx.ErrTxClosed
	}
	if t.commitErr != nil {
		return t.commitErr
	}
	if t.Committed {
		return pgx.ErrTxClosed
	}
	t.Committed = true
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.Committed {
		return pgx.ErrTxClosed
	}
	t.RolledBack = true
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.Execs = append(t.Execs, sql)
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}
