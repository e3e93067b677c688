package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/apperr"
)

var ErrLimitExceeded = apperr.New(apperr.KindLimitExceeded, "contract.monthly_limit_exceeded", errors.New("contract: monthly fee limit exceeded"))

// FeeSummer reads a creator's monthly fee total. LockCreator serializes
// creations by the same creator until the transaction ends.
type FeeSummer interface {
	SumCreatorFees(ctx context.Context, tx pgx.Tx, creatorID int64, from, to time.Time) (decimal.Decimal, error)
	LockCreator(ctx context.Context, tx pgx.Tx, creatorID int64) error
}

// LimitGuard caps the sum of fees a creator may create per calendar month.
//
// Without strict mode the sum and the later insert are not serialized: two
// concurrent creations by one creator can each pass and jointly exceed the
// ceiling. Strict mode takes a per-creator advisory lock first.
type LimitGuard struct {
	summer  FeeSummer
	ceiling decimal.Decimal
	strict  bool
}

func NewLimitGuard(summer FeeSummer, ceiling decimal.Decimal, strict bool) *LimitGuard {
	return &LimitGuard{summer: summer, ceiling: ceiling, strict: strict}
}

// MonthWindow returns the first second of now's UTC month and the first second
// of the next month. Both ends are inclusive when summing.
func MonthWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// Check rejects fee when the creator's total for the month plus fee exceeds the
// ceiling. A non-positive ceiling disables the guard.
func (g *LimitGuard) Check(ctx context.Context, tx pgx.Tx, creatorID int64, fee decimal.Decimal, now time.Time) error {
	if g == nil || !g.ceiling.IsPositive() {
		return nil
	}
	if g.strict {
		if err := g.summer.LockCreator(ctx, tx, creatorID); err != nil {
			return err
		}
	}
	from, to := MonthWindow(now)
	sum, err := g.summer.SumCreatorFees(ctx, tx, creatorID, from, to)
	if err != nil {
		return err
	}
	if total := sum.Add(fee); total.GreaterThan(g.ceiling) {
		return fmt.Errorf("%w: %s + %s > %s", ErrLimitExceeded, sum, fee, g.ceiling)
	}
	return nil
}
