// Package dispute raises disputes inside the escrow window and tracks their
// resolution.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/apperr"
	"escrowflow/auth"
	"escrowflow/contract"
	"escrowflow/logging"
	"escrowflow/notify"
)

var (
	ErrNotFound             = apperr.New(apperr.KindNotFound, "dispute.not_found", errors.New("dispute: not found"))
	ErrForbidden            = apperr.New(apperr.KindUnauthorized, "dispute.forbidden", errors.New("dispute: forbidden"))
	ErrReasonRequired       = apperr.New(apperr.KindValidation, "dispute.reason_required", errors.New("dispute: reason required"))
	ErrInvalidStatus        = apperr.New(apperr.KindValidation, "dispute.invalid_status", errors.New("dispute: invalid status"))
	ErrInvalidReleaseTo     = apperr.New(apperr.KindValidation, "dispute.invalid_release_to", errors.New("dispute: release target must be buyer or seller"))
	ErrInvalidReleaseAmount = apperr.New(apperr.KindValidation, "dispute.invalid_release_amount", errors.New("dispute: release amount must not be negative"))
	ErrInvalidOutcome       = apperr.New(apperr.KindValidation, "dispute.invalid_contract_status", errors.New("dispute: resolution may only complete or cancel the contract"))
	ErrAlreadyResolved      = apperr.New(apperr.KindConflict, "dispute.already_resolved", errors.New("dispute: resolved disputes are immutable"))
	ErrBadTransition        = apperr.New(apperr.KindConflict, "dispute.invalid_transition", errors.New("dispute: status cannot move backwards"))
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Contracts is the slice of the contract service a dispute needs: row locks
// and audited saves inside the dispute's transaction.
type Contracts interface {
	LockTx(ctx context.Context, tx pgx.Tx, contractID int64) (contract.Contract, error)
	SaveTx(ctx context.Context, tx pgx.Tx, before, next contract.Contract, actor auth.Actor, remark string) (contract.Contract, error)
	Get(ctx context.Context, actor auth.Actor, contractID int64) (contract.Contract, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) []string
}

type Service struct {
	pool      TxBeginner
	repo      Repository
	contracts Contracts
	window    Window
	notifier  Notifier
	log       *logging.Logger
	now       func() time.Time
}

func NewService(pool TxBeginner, repo Repository, contracts Contracts, window Window, notifier Notifier, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		contracts: contracts,
		window:    window,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// Create raises a Pending dispute and moves the contract to Dispute in one
// transaction. Only the buyer or seller may raise it, and only inside the
// escrow window.
func (s *Service) Create(ctx context.Context, actor auth.Actor, p CreateParams) (Result, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return Result{}, ErrReasonRequired
	}

	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.contracts.LockTx(ctx, tx, p.ContractID)
	if err != nil {
		return Result{}, err
	}
	if role := c.RoleOf(actor.UserID); role != "buyer" && role != "seller" {
		return Result{}, ErrForbidden
	}
	if err := s.window.CanRaise(c, now); err != nil {
		return Result{}, err
	}

	d, err := s.repo.Insert(ctx, tx, Record{
		ContractID:         c.ID,
		DisputeRaisedBy:    actor.UserID,
		DisputeReason:      reason,
		DisputeDescription: p.Description,
		DisputeDoc:         p.Doc,
		Status:             StatusPending,
		DisputeDateTime:    now,
	})
	if err != nil {
		return Result{}, err
	}

	next := c
	if err := contract.ApplyStatus(&next, contract.StatusDispute, reason, now); err != nil {
		return Result{}, err
	}
	saved, err := s.contracts.SaveTx(ctx, tx, c, next, actor, fmt.Sprintf("dispute %d raised", d.ID))
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("dispute: commit create: %w", err)
	}

	s.log.Info("dispute raised", "dispute_id", d.ID, "contract_id", c.ID)
	return Result{Dispute: d, Contract: saved, Warnings: s.notify(ctx, notify.TypeDisputeRaised, saved, actor)}, nil
}

// UpdateStatus advances a dispute. Resolved disputes are immutable and status
// never moves backwards.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, p UpdateParams) (Result, error) {
	if !actor.IsAdmin() {
		return Result{}, ErrForbidden
	}
	if p.Status.rank() == 0 {
		return Result{}, ErrInvalidStatus
	}
	if p.ReleaseTo != nil {
		if to := strings.ToLower(strings.TrimSpace(*p.ReleaseTo)); to != "buyer" && to != "seller" {
			return Result{}, ErrInvalidReleaseTo
		}
	}
	if p.ReleaseAmount != nil && p.ReleaseAmount.IsNegative() {
		return Result{}, ErrInvalidReleaseAmount
	}
	if p.ContractStatus != "" {
		if p.Status != StatusResolved || (p.ContractStatus != contract.StatusCompleted && p.ContractStatus != contract.StatusCancelled) {
			return Result{}, ErrInvalidOutcome
		}
	}

	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, p.DisputeID)
	if err != nil {
		return Result{}, err
	}
	if d.Status == StatusResolved {
		return Result{}, ErrAlreadyResolved
	}
	if p.Status.rank() < d.Status.rank() {
		return Result{}, ErrBadTransition
	}

	c, err := s.contracts.LockTx(ctx, tx, d.ContractID)
	if err != nil {
		return Result{}, err
	}

	d.Status = p.Status
	if p.ReleaseTo != nil {
		to := strings.ToLower(strings.TrimSpace(*p.ReleaseTo))
		d.ReleaseTo = &to
	}
	if p.ReleaseAmount != nil {
		d.ReleaseAmount = decimal.NewNullDecimal(*p.ReleaseAmount)
	}
	if p.BuyerNote != nil {
		d.BuyerNote = *p.BuyerNote
	}
	if p.SellerNote != nil {
		d.SellerNote = *p.SellerNote
	}
	if d.Status == StatusResolved {
		at := now
		d.ResolvedAt = &at
	}
	updated, err := s.repo.Update(ctx, tx, d)
	if err != nil {
		return Result{}, err
	}

	if p.ContractStatus != "" {
		next := c
		if err := contract.ApplyStatus(&next, p.ContractStatus, fmt.Sprintf("dispute %d resolved", d.ID), now); err != nil {
			return Result{}, err
		}
		if c, err = s.contracts.SaveTx(ctx, tx, c, next, actor, fmt.Sprintf("dispute %d resolved: %s", d.ID, p.ContractStatus)); err != nil {
			return Result{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("dispute: commit update: %w", err)
	}
	return Result{Dispute: updated, Contract: c, Warnings: s.notify(ctx, notify.TypeDisputeUpdated, c, actor)}, nil
}

// List returns a contract's disputes to its parties and admins.
func (s *Service) List(ctx context.Context, actor auth.Actor, contractID int64) ([]Record, error) {
	if _, err := s.contracts.Get(ctx, actor, contractID); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, contractID)
}

func (s *Service) notify(ctx context.Context, eventType string, c contract.Contract, actor auth.Actor) []string {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Notify(ctx, contract.EventFor(eventType, c, actor))
}
