// Package commission manages commission/tax rates and resolves the rate that
// applies to a transaction.
package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"escrowflow/apperr"
)

var (
	ErrNotFound                 = apperr.New(apperr.KindNotFound, "commission.not_found", errors.New("commission: not found"))
	ErrNotConfigured            = apperr.New(apperr.KindNotFound, "commission.not_configured", errors.New("commission: no applicable commission"))
	ErrDuplicateTransactionType = apperr.New(apperr.KindConflict, "commission.duplicate_transaction_type", errors.New("commission: transaction type already exists"))
	ErrGlobalAlreadyExists      = apperr.New(apperr.KindConflict, "commission.global_already_exists", errors.New("commission: a global commission already exists"))
	ErrMustKeepOneGlobal        = apperr.New(apperr.KindConflict, "commission.must_keep_one_global", errors.New("commission: at least one global commission must remain"))
	ErrTransactionTypeRequired  = apperr.New(apperr.KindValidation, "commission.transaction_type_required", errors.New("commission: transaction type required"))
	ErrInvalidRate              = apperr.New(apperr.KindValidation, "commission.invalid_rate", errors.New("commission: commission rate must be greater than zero"))
	ErrInvalidTaxRate           = apperr.New(apperr.KindValidation, "commission.invalid_tax_rate", errors.New("commission: tax rate must not be negative"))
	ErrInvalidMinAmount         = apperr.New(apperr.KindValidation, "commission.invalid_min_amount", errors.New("commission: min amount must not be negative"))
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	pool TxBeginner
	repo Repository
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo}
}

// Resolve picks the rate for a transaction type. A type-specific row wins; the
// global row is the fallback.
func (s *Service) Resolve(ctx context.Context, transactionType string) (Rate, error) {
	transactionType = strings.TrimSpace(transactionType)
	rows, err := s.repo.Candidates(ctx, transactionType)
	if err != nil {
		return Rate{}, err
	}

	var global *Commission
	for i := range rows {
		c := rows[i]
		if transactionType != "" && strings.EqualFold(c.TransactionType, transactionType) {
			return toRate(c), nil
		}
		if c.AppliedGlobally && global == nil {
			global = &rows[i]
		}
	}
	if global == nil {
		return Rate{}, ErrNotConfigured
	}
	return toRate(*global), nil
}

func (s *Service) List(ctx context.Context) ([]Commission, error) {
	return s.repo.List(ctx)
}

// Upsert validates and writes a commission row under the table write lock.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (Commission, error) {
	params.TransactionType = strings.TrimSpace(params.TransactionType)
	if err := validateUpsert(params); err != nil {
		return Commission{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Commission{}, fmt.Errorf("commission: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.LockForWrite(ctx, tx); err != nil {
		return Commission{}, err
	}
	rows, err := s.repo.ListTx(ctx, tx)
	if err != nil {
		return Commission{}, err
	}

	var (
		target      *Commission
		otherGlobal bool
	)
	for i := range rows {
		c := rows[i]
		if params.ID != 0 && c.ID == params.ID {
			target = &rows[i]
			continue
		}
		if strings.EqualFold(c.TransactionType, params.TransactionType) {
			return Commission{}, ErrDuplicateTransactionType
		}
		if c.AppliedGlobally {
			otherGlobal = true
		}
	}
	if params.ID != 0 && target == nil {
		return Commission{}, ErrNotFound
	}

	targetIsGlobal := target != nil && target.AppliedGlobally
	if params.AppliedGlobally && otherGlobal && !targetIsGlobal {
		return Commission{}, ErrGlobalAlreadyExists
	}
	if !params.AppliedGlobally && targetIsGlobal && !otherGlobal {
		return Commission{}, ErrMustKeepOneGlobal
	}

	row := Commission{
		ID:              params.ID,
		TransactionType: params.TransactionType,
		CommissionRate:  params.CommissionRate,
		TaxRate:         params.TaxRate,
		AppliedGlobally: params.AppliedGlobally,
	}
	if params.MinAmount != nil {
		row.MinAmount = decimal.NewNullDecimal(*params.MinAmount)
	}

	var saved Commission
	if target == nil {
		saved, err = s.repo.Insert(ctx, tx, row)
	} else {
		saved, err = s.repo.Update(ctx, tx, row)
	}
	if err != nil {
		return Commission{}, err
	}

	if err := commit(ctx, tx); err != nil {
		return Commission{}, err
	}
	return saved, nil
}

// SetGlobal makes id the only global commission.
func (s *Service) SetGlobal(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commission: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.LockForWrite(ctx, tx); err != nil {
		return err
	}
	rows, err := s.repo.ListTx(ctx, tx)
	if err != nil {
		return err
	}
	found := false
	for _, c := range rows {
		if c.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	if err := s.repo.SetGlobal(ctx, tx, id); err != nil {
		return err
	}
	return commit(ctx, tx)
}

// Delete removes a non-global commission.
func (s *Service) Delete(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commission: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.LockForWrite(ctx, tx); err != nil {
		return err
	}
	rows, err := s.repo.ListTx(ctx, tx)
	if err != nil {
		return err
	}
	var target *Commission
	for i := range rows {
		if rows[i].ID == id {
			target = &rows[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	if target.AppliedGlobally {
		return ErrMustKeepOneGlobal
	}

	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}
	return commit(ctx, tx)
}

func validateUpsert(params UpsertParams) error {
	if params.TransactionType == "" {
		return ErrTransactionTypeRequired
	}
	if !params.CommissionRate.IsPositive() {
		return ErrInvalidRate
	}
	if params.TaxRate.IsNegative() {
		return ErrInvalidTaxRate
	}
	if params.MinAmount != nil && params.MinAmount.IsNegative() {
		return ErrInvalidMinAmount
	}
	return nil
}

// commit maps the deferred single-global exclusion constraint, checked at
// commit time, onto the domain error.
func commit(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrGlobalAlreadyExists
		}
		return fmt.Errorf("commission: commit: %w", err)
	}
	return nil
}

func toRate(c Commission) Rate {
	return Rate{
		CommissionID:    c.ID,
		TransactionType: c.TransactionType,
		CommissionRate:  c.CommissionRate,
		TaxRate:         c.TaxRate,
		Global:          c.AppliedGlobally,
	}
}
