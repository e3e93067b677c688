// Package contract owns the contract lifecycle: creation with the monthly fee
// cap, fee split recomputation, status changes and soft deletion. Every
// mutation commits together with its audit row.
package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/commission"
	"escrowflow/fees"
	"escrowflow/logging"
	"escrowflow/milestone"
	"escrowflow/notify"
)

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "contract.not_found", errors.New("contract: not found"))
	ErrForbidden         = apperr.New(apperr.KindUnauthorized, "contract.forbidden", errors.New("contract: actor may not perform this operation"))
	ErrMobileRequired    = apperr.New(apperr.KindValidation, "contract.mobile_required", errors.New("contract: buyer and seller mobile required"))
	ErrSameParties       = apperr.New(apperr.KindValidation, "contract.same_parties", errors.New("contract: buyer and seller mobile must differ"))
	ErrInvalidFeeAmount  = apperr.New(apperr.KindValidation, "contract.invalid_fee_amount", errors.New("contract: fee amount must not be negative"))
	ErrMilestoneRequired = apperr.New(apperr.KindValidation, "milestone.required", errors.New("contract: at least one milestone required"))
)

const sourceAPI = "api"

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type MilestoneLedger interface {
	Upsert(ctx context.Context, tx pgx.Tx, contractID int64, terms milestone.Terms, inputs []milestone.Input) ([]milestone.Milestone, error)
	Reprice(ctx context.Context, tx pgx.Tx, contractID int64, terms milestone.Terms) ([]milestone.Milestone, error)
	ListTx(ctx context.Context, tx pgx.Tx, contractID int64) ([]milestone.Milestone, error)
	List(ctx context.Context, contractID int64) ([]milestone.Milestone, error)
	Delete(ctx context.Context, tx pgx.Tx, contractID, id int64) error
}

type CommissionResolver interface {
	Resolve(ctx context.Context, transactionType string) (commission.Rate, error)
}

type IdentityResolver interface {
	GetOrCreateUserID(ctx context.Context, name, mobile string) (int64, error)
}

// AuditLog appends inside the caller's transaction and reads committed rows.
type AuditLog interface {
	Record(ctx context.Context, tx pgx.Tx, params audit.RecordParams) (audit.Entry, error)
	List(ctx context.Context, contractID int64) ([]audit.Entry, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) []string
}

type Deps struct {
	Pool        TxBeginner
	Repo        Repository
	Milestones  MilestoneLedger
	Commissions CommissionResolver
	Identities  IdentityResolver
	Audit       AuditLog
	Notifier    Notifier
	Guard       *LimitGuard
	Log         *logging.Logger
	Now         func() time.Time
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	milestones  MilestoneLedger
	commissions CommissionResolver
	identities  IdentityResolver
	audit       AuditLog
	notifier    Notifier
	guard       *LimitGuard
	log         *logging.Logger
	now         func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &Service{
		pool:        d.Pool,
		repo:        d.Repo,
		milestones:  d.Milestones,
		commissions: d.Commissions,
		identities:  d.Identities,
		audit:       d.Audit,
		notifier:    d.Notifier,
		guard:       d.Guard,
		log:         d.Log,
		now:         d.Now,
	}
}

// Create checks the monthly cap, resolves the commission, splits the fee and
// stores a Draft contract with its milestones and a CREATE audit row.
func (s *Service) Create(ctx context.Context, actor auth.Actor, p CreateParams) (Result, error) {
	policy, err := fees.ParsePayerPolicy(p.FeesPaidBy)
	if err != nil {
		return Result{}, err
	}
	if p.FeeAmount.IsNegative() {
		return Result{}, ErrInvalidFeeAmount
	}
	buyerMobile, sellerMobile, err := parties(p.BuyerMobile, p.SellerMobile)
	if err != nil {
		return Result{}, err
	}
	if err := milestone.Validate(p.Milestones); err != nil {
		return Result{}, err
	}

	buyerID, err := s.identities.GetOrCreateUserID(ctx, p.BuyerName, buyerMobile)
	if err != nil {
		return Result{}, err
	}
	sellerID, err := s.identities.GetOrCreateUserID(ctx, p.SellerName, sellerMobile)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.guard.Check(ctx, tx, actor.UserID, p.FeeAmount, now); err != nil {
		return Result{}, err
	}
	rate, err := s.commissions.Resolve(ctx, p.TransactionType)
	if err != nil {
		return Result{}, err
	}

	creator := actor.UserID
	c := Contract{
		Title:           strings.TrimSpace(p.Title),
		Description:     p.Description,
		TransactionType: strings.TrimSpace(p.TransactionType),
		CreatorID:       creator,
		BuyerID:         &buyerID,
		SellerID:        &sellerID,
		BuyerMobile:     buyerMobile,
		SellerMobile:    sellerMobile,
		FeeAmount:       p.FeeAmount,
		FeesPaidBy:      policy,
		Status:          StatusDraft,
		IsActive:        true,
		CreatedBy:       &creator,
	}
	c.applySplit(rate.CommissionRate, rate.TaxRate)

	saved, err := s.repo.Insert(ctx, tx, c)
	if err != nil {
		return Result{}, err
	}
	if len(p.Milestones) > 0 {
		saved.Milestones, err = s.milestones.Upsert(ctx, tx, saved.ID, saved.terms(), p.Milestones)
		if err != nil {
			return Result{}, err
		}
	}
	if err := s.record(ctx, tx, audit.OperationCreate, nil, saved, actor, "contract created"); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("contract: commit create: %w", err)
	}

	s.log.Info("contract created", "contract_id", saved.ID, "creator_id", creator, "fee_amount", saved.FeeAmount.String())
	return Result{Contract: saved, Warnings: s.notify(ctx, notify.TypeContractCreated, saved, actor)}, nil
}

// Edit changes contract fields and recomputes the split from the current fee,
// policy and resolved commission. Milestones are repriced with the new terms.
func (s *Service) Edit(ctx context.Context, actor auth.Actor, p EditParams) (Result, error) {
	return s.edit(ctx, actor, p, nil)
}

// Modify is Edit plus a milestone upsert in the same transaction.
func (s *Service) Modify(ctx context.Context, actor auth.Actor, p EditParams, inputs []milestone.Input) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, ErrMilestoneRequired
	}
	return s.edit(ctx, actor, p, inputs)
}

func (s *Service) edit(ctx context.Context, actor auth.Actor, p EditParams, inputs []milestone.Input) (Result, error) {
	var policy fees.PayerPolicy
	if p.FeesPaidBy != nil {
		parsed, err := fees.ParsePayerPolicy(*p.FeesPaidBy)
		if err != nil {
			return Result{}, err
		}
		policy = parsed
	}
	if p.FeeAmount != nil && p.FeeAmount.IsNegative() {
		return Result{}, ErrInvalidFeeAmount
	}
	if err := milestone.Validate(inputs); err != nil {
		return Result{}, err
	}

	// party changes create users, so permission and mobile checks run first
	var buyerID, sellerID *int64
	if p.BuyerMobile != nil || p.SellerMobile != nil {
		existing, err := s.repo.Get(ctx, p.ContractID)
		if err != nil {
			return Result{}, err
		}
		if !canEdit(actor, existing) {
			return Result{}, ErrForbidden
		}
		buyerMobile, sellerMobile := existing.BuyerMobile, existing.SellerMobile
		if p.BuyerMobile != nil {
			buyerMobile = *p.BuyerMobile
		}
		if p.SellerMobile != nil {
			sellerMobile = *p.SellerMobile
		}
		if buyerMobile, sellerMobile, err = parties(buyerMobile, sellerMobile); err != nil {
			return Result{}, err
		}
		if p.BuyerMobile != nil {
			id, err := s.identities.GetOrCreateUserID(ctx, p.BuyerName, buyerMobile)
			if err != nil {
				return Result{}, err
			}
			buyerID = &id
		}
		if p.SellerMobile != nil {
			id, err := s.identities.GetOrCreateUserID(ctx, p.SellerName, sellerMobile)
			if err != nil {
				return Result{}, err
			}
			sellerID = &id
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.lockWithMilestones(ctx, tx, p.ContractID)
	if err != nil {
		return Result{}, err
	}
	if !canEdit(actor, current) {
		return Result{}, ErrForbidden
	}

	next := current
	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.TransactionType != nil {
		next.TransactionType = strings.TrimSpace(*p.TransactionType)
	}
	if p.FeeAmount != nil {
		next.FeeAmount = *p.FeeAmount
	}
	if policy != "" {
		next.FeesPaidBy = policy
	}
	if buyerID != nil {
		next.BuyerID = buyerID
		next.BuyerMobile = auth.NormalizeMobile(*p.BuyerMobile)
	}
	if sellerID != nil {
		next.SellerID = sellerID
		next.SellerMobile = auth.NormalizeMobile(*p.SellerMobile)
	}
	if _, _, err := parties(next.BuyerMobile, next.SellerMobile); err != nil {
		return Result{}, err
	}

	rate, err := s.commissions.Resolve(ctx, next.TransactionType)
	if err != nil {
		return Result{}, err
	}
	next.applySplit(rate.CommissionRate, rate.TaxRate)
	next.LastModifiedBy = actorRef(actor)

	saved, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Result{}, err
	}
	if saved.Milestones, err = s.milestones.Reprice(ctx, tx, saved.ID, saved.terms()); err != nil {
		return Result{}, err
	}
	if len(inputs) > 0 {
		if _, err := s.milestones.Upsert(ctx, tx, saved.ID, saved.terms(), inputs); err != nil {
			return Result{}, err
		}
		if saved.Milestones, err = s.milestones.ListTx(ctx, tx, saved.ID); err != nil {
			return Result{}, err
		}
	}

	remark := strings.TrimSpace(p.Remark)
	if remark == "" {
		remark = "contract edited"
		if inputs != nil {
			remark = "contract modified"
		}
	}
	if err := s.record(ctx, tx, audit.OperationUpdate, &current, saved, actor, remark); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("contract: commit edit: %w", err)
	}
	return Result{Contract: saved, Warnings: s.notify(ctx, notify.TypeContractUpdated, saved, actor)}, nil
}

// UpsertMilestones applies milestone inputs under the contract's current terms.
func (s *Service) UpsertMilestones(ctx context.Context, actor auth.Actor, contractID int64, inputs []milestone.Input) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, ErrMilestoneRequired
	}
	if err := milestone.Validate(inputs); err != nil {
		return Result{}, err
	}
	return s.mutateMilestones(ctx, actor, contractID, "milestones upserted", func(tx pgx.Tx, c Contract) error {
		_, err := s.milestones.Upsert(ctx, tx, c.ID, c.terms(), inputs)
		return err
	})
}

// DeleteMilestone is the only removal path for milestones.
func (s *Service) DeleteMilestone(ctx context.Context, actor auth.Actor, contractID, milestoneID int64) (Result, error) {
	return s.mutateMilestones(ctx, actor, contractID, fmt.Sprintf("milestone %d deleted", milestoneID), func(tx pgx.Tx, c Contract) error {
		return s.milestones.Delete(ctx, tx, c.ID, milestoneID)
	})
}

func (s *Service) mutateMilestones(ctx context.Context, actor auth.Actor, contractID int64, remark string, apply func(pgx.Tx, Contract) error) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.lockWithMilestones(ctx, tx, contractID)
	if err != nil {
		return Result{}, err
	}
	if !canEdit(actor, current) {
		return Result{}, ErrForbidden
	}
	if err := apply(tx, current); err != nil {
		return Result{}, err
	}

	next := current
	next.LastModifiedBy = actorRef(actor)
	saved, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Result{}, err
	}
	if saved.Milestones, err = s.milestones.ListTx(ctx, tx, contractID); err != nil {
		return Result{}, err
	}
	if err := s.record(ctx, tx, audit.OperationUpdate, &current, saved, actor, remark); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("contract: commit milestones: %w", err)
	}
	return Result{Contract: saved, Warnings: s.notify(ctx, notify.TypeMilestoneChanged, saved, actor)}, nil
}

// ToggleActive flips IsActive without touching status.
func (s *Service) ToggleActive(ctx context.Context, actor auth.Actor, contractID int64) (Result, error) {
	if !actor.IsAdmin() {
		return Result{}, ErrForbidden
	}
	return s.mutate(ctx, actor, contractID, notify.TypeActiveToggled, func(c *Contract) (string, error) {
		c.IsActive = !c.IsActive
		if c.IsActive {
			return "contract resumed", nil
		}
		return "contract suspended", nil
	})
}

// UpdateStatus moves the contract to any status except Dispute, which is only
// reachable by raising a dispute.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, p StatusParams) (Result, error) {
	if !p.Status.Valid() {
		return Result{}, ErrInvalidStatus
	}
	if p.Status == StatusDispute {
		return Result{}, ErrDisputeTransition
	}
	return s.mutate(ctx, actor, p.ContractID, notify.TypeStatusChanged, func(c *Contract) (string, error) {
		if !canChangeStatus(actor, *c) {
			return "", ErrForbidden
		}
		from := c.Status
		if err := ApplyStatus(c, p.Status, p.Reason, s.now()); err != nil {
			return "", err
		}
		return fmt.Sprintf("status %s -> %s", from, p.Status), nil
	})
}

// Delete soft-deletes the contract.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, contractID int64) (Result, error) {
	return s.mutate(ctx, actor, contractID, notify.TypeContractUpdated, func(c *Contract) (string, error) {
		if !canEdit(actor, *c) {
			return "", ErrForbidden
		}
		c.IsDeleted = true
		c.IsActive = false
		return "contract deleted", nil
	})
}

func (s *Service) mutate(ctx context.Context, actor auth.Actor, contractID int64, event string, change func(*Contract) (string, error)) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.lockWithMilestones(ctx, tx, contractID)
	if err != nil {
		return Result{}, err
	}
	next := current
	remark, err := change(&next)
	if err != nil {
		return Result{}, err
	}
	saved, err := s.SaveTx(ctx, tx, current, next, actor, remark)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("contract: commit: %w", err)
	}
	return Result{Contract: saved, Warnings: s.notify(ctx, event, saved, actor)}, nil
}

// LockTx loads and row-locks a contract with its milestones inside tx.
func (s *Service) LockTx(ctx context.Context, tx pgx.Tx, contractID int64) (Contract, error) {
	return s.lockWithMilestones(ctx, tx, contractID)
}

// SaveTx persists next and appends an UPDATE audit row in tx. Both audit
// snapshots carry milestones. Callers commit.
func (s *Service) SaveTx(ctx context.Context, tx pgx.Tx, before, next Contract, actor auth.Actor, remark string) (Contract, error) {
	next.LastModifiedBy = actorRef(actor)
	saved, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Contract{}, err
	}
	if saved.Milestones, err = s.milestones.ListTx(ctx, tx, saved.ID); err != nil {
		return Contract{}, err
	}
	if err := s.record(ctx, tx, audit.OperationUpdate, &before, saved, actor, remark); err != nil {
		return Contract{}, err
	}
	return saved, nil
}

// Get returns a contract with its milestones to a party or an admin.
func (s *Service) Get(ctx context.Context, actor auth.Actor, contractID int64) (Contract, error) {
	c, err := s.repo.Get(ctx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if !canView(actor, c) {
		return Contract{}, ErrForbidden
	}
	if c.Milestones, err = s.milestones.List(ctx, contractID); err != nil {
		return Contract{}, err
	}
	return c, nil
}

// List returns the actor's contracts; admins see every contract.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter ListFilter) ([]Contract, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	return s.repo.List(ctx, filter)
}

// Counts returns dashboard counters scoped like List.
func (s *Service) Counts(ctx context.Context, actor auth.Actor) (Counts, error) {
	var userID int64
	if !actor.IsAdmin() {
		userID = actor.UserID
	}
	return s.repo.Counts(ctx, userID)
}

// AuditLog returns the contract's audit trail, oldest first.
func (s *Service) AuditLog(ctx context.Context, actor auth.Actor, contractID int64) ([]audit.Entry, error) {
	if _, err := s.Get(ctx, actor, contractID); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, contractID)
}

func (s *Service) lockWithMilestones(ctx context.Context, tx pgx.Tx, contractID int64) (Contract, error) {
	c, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if c.Milestones, err = s.milestones.ListTx(ctx, tx, contractID); err != nil {
		return Contract{}, err
	}
	return c, nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, op audit.Operation, before *Contract, after Contract, actor auth.Actor, remark string) error {
	params := audit.RecordParams{
		ContractID: after.ID,
		Operation:  op,
		New:        after,
		ActorID:    actor.UserID,
		Source:     sourceAPI,
		Remark:     remark,
	}
	if before != nil {
		params.Previous = *before
	}
	if _, err := s.audit.Record(ctx, tx, params); err != nil {
		return err
	}
	return nil
}

func (s *Service) notify(ctx context.Context, eventType string, c Contract, actor auth.Actor) []string {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Notify(ctx, EventFor(eventType, c, actor))
}

// EventFor addresses a notification about c to its parties.
func EventFor(eventType string, c Contract, actor auth.Actor) notify.Event {
	return notify.Event{
		Type:       eventType,
		ContractID: c.ID,
		CreatorID:  c.CreatorID,
		BuyerID:    c.BuyerID,
		SellerID:   c.SellerID,
		Role:       c.RoleOf(actor.UserID),
		Data:       map[string]any{"status": c.Status},
	}
}

func parties(buyer, seller string) (string, string, error) {
	buyer, seller = auth.NormalizeMobile(buyer), auth.NormalizeMobile(seller)
	if buyer == "" || seller == "" {
		return "", "", ErrMobileRequired
	}
	if buyer == seller {
		return "", "", ErrSameParties
	}
	return buyer, seller, nil
}

func canEdit(actor auth.Actor, c Contract) bool {
	return actor.IsAdmin() || (actor.UserID != 0 && c.CreatorID == actor.UserID)
}

func canChangeStatus(actor auth.Actor, c Contract) bool {
	return actor.IsAdmin() || c.IsParty(actor.UserID)
}

func canView(actor auth.Actor, c Contract) bool {
	return actor.IsAdmin() || c.IsParty(actor.UserID)
}

func actorRef(actor auth.Actor) *int64 {
	if actor.UserID == 0 {
		return nil
	}
	id := actor.UserID
	return &id
}
