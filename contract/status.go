package contract

import (
	"errors"
	"strings"
	"time"

	"escrowflow/apperr"
)

var (
	ErrInvalidStatus     = apperr.New(apperr.KindValidation, "contract.invalid_status", errors.New("contract: invalid status"))
	ErrDisputeTransition = apperr.New(apperr.KindConflict, "contract.dispute_via_window_only", errors.New("contract: dispute status is only reachable by raising a dispute"))
)

// ParseStatus matches a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	raw = strings.TrimSpace(raw)
	for _, s := range allStatuses {
		if strings.EqualFold(string(s), raw) {
			return s, nil
		}
	}
	return "", ErrInvalidStatus
}

// ApplyStatus moves c to next. Entering Escrow stamps EscrowStatusUpdatedAt the
// first time only; later re-entries keep the original stamp. An empty reason
// leaves the previous reason in place.
func ApplyStatus(c *Contract, next Status, reason string, now time.Time) error {
	if !next.Valid() {
		return ErrInvalidStatus
	}
	c.Status = next
	if reason = strings.TrimSpace(reason); reason != "" {
		c.StatusReason = &reason
	}
	if next == StatusEscrow && c.EscrowStatusUpdatedAt == nil {
		at := now.UTC().Truncate(time.Microsecond)
		c.EscrowStatusUpdatedAt = &at
	}
	return nil
}
