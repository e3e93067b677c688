// Package milestone tracks per-milestone sub-amounts of a contract and their
// commission/tax split.
package milestone

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/fees"
)

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "milestone.not_found", errors.New("milestone: not found"))
	ErrNameRequired  = apperr.New(apperr.KindValidation, "milestone.name_required", errors.New("milestone: name required"))
	ErrInvalidAmount = apperr.New(apperr.KindValidation, "milestone.invalid_amount", errors.New("milestone: amount must not be negative"))
	ErrInvalidStatus = apperr.New(apperr.KindValidation, "milestone.invalid_status", errors.New("milestone: invalid status"))
)

// Ledger applies milestone writes inside the caller's transaction. Upsert never
// deletes milestones that are missing from the input; Delete is the only
// removal path.
type Ledger struct {
	repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Validate checks inputs before any write so a bad item fails the whole call.
func Validate(inputs []Input) error {
	for i, in := range inputs {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("%w (item %d)", ErrNameRequired, i)
		}
		if in.Amount.IsNegative() {
			return fmt.Errorf("%w (item %d)", ErrInvalidAmount, i)
		}
		if in.Status != "" && !in.Status.Valid() {
			return fmt.Errorf("%w %q (item %d)", ErrInvalidStatus, in.Status, i)
		}
	}
	return nil
}

// Upsert updates inputs whose id matches an existing milestone of the contract
// and inserts the rest. It returns the applied rows in input order.
func (l *Ledger) Upsert(ctx context.Context, tx pgx.Tx, contractID int64, terms Terms, inputs []Input) ([]Milestone, error) {
	if err := Validate(inputs); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return []Milestone{}, nil
	}

	existing, err := l.repo.ListTx(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Milestone, len(existing))
	for _, m := range existing {
		byID[m.ID] = m
	}

	applied := make([]Milestone, 0, len(inputs))
	for _, in := range inputs {
		m := build(contractID, terms, in)
		if cur, ok := byID[in.ID]; ok && in.ID != 0 {
			m.ID = cur.ID
			m.CreatedAt = cur.CreatedAt
			if in.Status == "" {
				m.Status = cur.Status
			}
			saved, err := l.repo.Update(ctx, tx, m)
			if err != nil {
				return nil, err
			}
			applied = append(applied, saved)
			continue
		}

		m.ID = 0
		saved, err := l.repo.Insert(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		applied = append(applied, saved)
	}
	return applied, nil
}

// Reprice recomputes the split of every milestone of a contract after the
// contract's commission terms change.
func (l *Ledger) Reprice(ctx context.Context, tx pgx.Tx, contractID int64, terms Terms) ([]Milestone, error) {
	existing, err := l.repo.ListTx(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	out := make([]Milestone, 0, len(existing))
	for _, m := range existing {
		split := fees.Split(m.Amount, terms.CommissionRate, terms.TaxRate, terms.Policy)
		if split.EscrowAmount.Equal(m.MilestoneEscrowAmount) && split.TaxAmount.Equal(m.MilestoneTaxAmount) {
			out = append(out, m)
			continue
		}
		m.MilestoneEscrowAmount = split.EscrowAmount
		m.MilestoneTaxAmount = split.TaxAmount
		saved, err := l.repo.Update(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

func (l *Ledger) Delete(ctx context.Context, tx pgx.Tx, contractID, id int64) error {
	return l.repo.Delete(ctx, tx, contractID, id)
}

func (l *Ledger) List(ctx context.Context, contractID int64) ([]Milestone, error) {
	return l.repo.List(ctx, contractID)
}

func (l *Ledger) ListTx(ctx context.Context, tx pgx.Tx, contractID int64) ([]Milestone, error) {
	return l.repo.ListTx(ctx, tx, contractID)
}

func build(contractID int64, terms Terms, in Input) Milestone {
	split := fees.Split(in.Amount, terms.CommissionRate, terms.TaxRate, terms.Policy)
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	docs := in.Documents
	if docs == nil {
		docs = []string{}
	}
	return Milestone{
		ID:                    in.ID,
		ContractID:            contractID,
		Name:                  strings.TrimSpace(in.Name),
		Amount:                in.Amount,
		Description:           in.Description,
		DueDate:               in.DueDate,
		Documents:             docs,
		Status:                status,
		MilestoneEscrowAmount: split.EscrowAmount,
		MilestoneTaxAmount:    split.TaxAmount,
	}
}
