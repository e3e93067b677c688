package dispute

import (
	"errors"
	"time"

	"escrowflow/apperr"
	"escrowflow/contract"
)

var (
	ErrNotInEscrow            = apperr.New(apperr.KindConflict, "dispute.not_in_escrow", errors.New("dispute: contract is not in escrow"))
	ErrEscrowTimestampMissing = apperr.New(apperr.KindConflict, "dispute.escrow_timestamp_missing", errors.New("dispute: contract has no escrow timestamp"))
	ErrWindowExpired          = apperr.New(apperr.KindWindowExpired, "dispute.window_expired", errors.New("dispute: dispute window has expired"))
)

// DefaultWindow is how long after entering escrow a dispute may be raised.
const DefaultWindow = 48 * time.Hour

type Window struct {
	Length time.Duration
}

func NewWindow(length time.Duration) Window {
	if length <= 0 {
		length = DefaultWindow
	}
	return Window{Length: length}
}

// CanRaise reports whether a dispute may be raised on c at now. The window end
// is inclusive.
func (w Window) CanRaise(c contract.Contract, now time.Time) error {
	if c.Status != contract.StatusEscrow {
		return ErrNotInEscrow
	}
	if c.EscrowStatusUpdatedAt == nil {
		return ErrEscrowTimestampMissing
	}
	if now.Sub(*c.EscrowStatusUpdatedAt) > w.Length {
		return ErrWindowExpired
	}
	return nil
}
