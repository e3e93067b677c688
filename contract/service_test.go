package contract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/apperr"
	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/commission"
	"escrowflow/milestone"
	"escrowflow/notify"
	"escrowflow/test/fakedb"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func onCommit(tx pgx.Tx, fn func()) {
	tx.(*fakedb.Tx).OnCommit(fn)
}

type fakeRepo struct {
	rows        map[int64]Contract
	nextID      int64
	lockCalls   int
	now         func() time.Time
	updateCalls int
}

func newFakeRepo(now func() time.Time, rows ...Contract) *fakeRepo {
	r := &fakeRepo{rows: map[int64]Contract{}, nextID: 1, now: now}
	for _, c := range rows {
		r.rows[c.ID] = c
		if c.ID >= r.nextID {
			r.nextID = c.ID + 1
		}
	}
	return r
}

func (r *fakeRepo) Insert(_ context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	c.ID = r.nextID
	r.nextID++
	c.CreatedAt = r.now()
	c.LastModifiedAt = c.CreatedAt
	onCommit(tx, func() { r.rows[c.ID] = c })
	return c, nil
}

func (r *fakeRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id int64) (Contract, error) {
	c, ok := r.rows[id]
	if !ok || c.IsDeleted {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) Get(ctx context.Context, id int64) (Contract, error) {
	return r.GetForUpdate(ctx, nil, id)
}

func (r *fakeRepo) Update(_ context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	cur, ok := r.rows[c.ID]
	if !ok {
		return Contract{}, ErrNotFound
	}
	r.updateCalls++
	if cur.EscrowStatusUpdatedAt != nil {
		c.EscrowStatusUpdatedAt = cur.EscrowStatusUpdatedAt
	}
	c.Milestones = nil
	c.LastModifiedAt = r.now()
	onCommit(tx, func() { r.rows[c.ID] = c })
	return c, nil
}

func (r *fakeRepo) SumCreatorFees(_ context.Context, _ pgx.Tx, creatorID int64, from, to time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range r.rows {
		if c.CreatorID == creatorID && !c.CreatedAt.Before(from) && !c.CreatedAt.After(to) {
			sum = sum.Add(c.FeeAmount)
		}
	}
	return sum, nil
}

func (r *fakeRepo) LockCreator(context.Context, pgx.Tx, int64) error {
	r.lockCalls++
	return nil
}

func (r *fakeRepo) List(context.Context, ListFilter) ([]Contract, error) { return nil, nil }

func (r *fakeRepo) Counts(context.Context, int64) (Counts, error) { return Counts{}, nil }

type fakeLedger struct {
	rows map[int64][]milestone.Milestone
}

func (l *fakeLedger) Upsert(_ context.Context, _ pgx.Tx, contractID int64, terms milestone.Terms, inputs []milestone.Input) ([]milestone.Milestone, error) {
	if err := milestone.Validate(inputs); err != nil {
		return nil, err
	}
	out := make([]milestone.Milestone, 0, len(inputs))
	for i, in := range inputs {
		out = append(out, milestone.Milestone{ID: int64(i + 1), ContractID: contractID, Name: in.Name, Amount: in.Amount})
	}
	l.rows[contractID] = append(l.rows[contractID], out...)
	return out, nil
}

func (l *fakeLedger) Reprice(_ context.Context, _ pgx.Tx, contractID int64, _ milestone.Terms) ([]milestone.Milestone, error) {
	return l.rows[contractID], nil
}

func (l *fakeLedger) ListTx(_ context.Context, _ pgx.Tx, contractID int64) ([]milestone.Milestone, error) {
	return l.rows[contractID], nil
}

func (l *fakeLedger) List(_ context.Context, contractID int64) ([]milestone.Milestone, error) {
	return l.rows[contractID], nil
}

func (l *fakeLedger) Delete(context.Context, pgx.Tx, int64, int64) error { return nil }

type fakeResolver map[string]commission.Rate

func (f fakeResolver) Resolve(_ context.Context, transactionType string) (commission.Rate, error) {
	if r, ok := f[transactionType]; ok {
		return r, nil
	}
	if r, ok := f[""]; ok {
		return r, nil
	}
	return commission.Rate{}, commission.ErrNotConfigured
}

type fakeIdentities struct {
	ids   map[string]int64
	err   error
	calls int
}

func (f *fakeIdentities) GetOrCreateUserID(_ context.Context, _, mobile string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	mobile = auth.NormalizeMobile(mobile)
	if id, ok := f.ids[mobile]; ok {
		return id, nil
	}
	id := int64(100 + len(f.ids))
	f.ids[mobile] = id
	return id, nil
}

type fakeAudit struct {
	entries []audit.RecordParams
	err     error
}

func (a *fakeAudit) Record(_ context.Context, tx pgx.Tx, p audit.RecordParams) (audit.Entry, error) {
	if a.err != nil {
		return audit.Entry{}, a.err
	}
	onCommit(tx, func() { a.entries = append(a.entries, p) })
	return audit.Entry{ContractID: p.ContractID, Operation: p.Operation}, nil
}

func (a *fakeAudit) List(context.Context, int64) ([]audit.Entry, error) { return nil, nil }

type fakeNotifier struct {
	warnings []string
	events   []notify.Event
}

func (n *fakeNotifier) Notify(_ context.Context, ev notify.Event) []string {
	n.events = append(n.events, ev)
	return n.warnings
}

type harness struct {
	svc      *Service
	pool     *fakedb.Pool
	repo     *fakeRepo
	audit    *fakeAudit
	notifier *fakeNotifier
	ids      *fakeIdentities
	clock    time.Time
}

func newHarness(ceiling string, strict bool, rows ...Contract) *harness {
	h := &harness{
		pool:     &fakedb.Pool{},
		audit:    &fakeAudit{},
		notifier: &fakeNotifier{},
		ids:      &fakeIdentities{ids: map[string]int64{}},
		clock:    time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }
	h.repo = newFakeRepo(now, rows...)
	h.svc = NewService(Deps{
		Pool:       h.pool,
		Repo:       h.repo,
		Milestones: &fakeLedger{rows: map[int64][]milestone.Milestone{}},
		Commissions: fakeResolver{
			"":        {CommissionID: 1, CommissionRate: dec("5"), TaxRate: dec("10"), Global: true},
			"vehicle": {CommissionID: 2, CommissionRate: dec("2"), TaxRate: dec("0")},
		},
		Identities: h.ids,
		Audit:      h.audit,
		Notifier:   h.notifier,
		Guard:      NewLimitGuard(h.repo, dec(ceiling), strict),
		Now:        now,
	})
	return h
}

var (
	creator = auth.Actor{UserID: 1, Role: auth.RoleUser}
	admin   = auth.Actor{UserID: 99, Role: auth.RoleAdmin}
)

func createParams(fee string) CreateParams {
	return CreateParams{
		Title:        "laptop",
		BuyerMobile:  "+1 555 0001",
		SellerMobile: "+1 555 0002",
		FeeAmount:    dec(fee),
		FeesPaidBy:   "buyer",
	}
}

func TestCreate_EndToEnd(t *testing.T) {
	h := newHarness("0", false)

	res, err := h.svc.Create(context.Background(), creator, createParams("1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c := res.Contract
	if !c.EscrowTax.Equal(dec("50")) || !c.TaxAmount.Equal(dec("5")) {
		t.Fatalf("expected escrow 50 tax 5, got %s %s", c.EscrowTax, c.TaxAmount)
	}
	if c.BuyerPayableAmount != "1055" || c.SellerPayableAmount != "1000" {
		t.Fatalf("expected payables 1055/1000, got %s/%s", c.BuyerPayableAmount, c.SellerPayableAmount)
	}
	if c.Status != StatusDraft || !c.IsActive || c.CreatorID != 1 {
		t.Fatalf("unexpected contract %+v", c)
	}
	if c.BuyerMobile != "+15550001" || c.BuyerID == nil || c.SellerID == nil || *c.BuyerID == *c.SellerID {
		t.Fatalf("expected resolved distinct parties, got %+v", c)
	}
	if h.pool.Committed() != 1 {
		t.Fatalf("expected one committed tx, got %d", h.pool.Committed())
	}
	if len(h.audit.entries) != 1 || h.audit.entries[0].Operation != audit.OperationCreate || h.audit.entries[0].Previous != nil {
		t.Fatalf("expected one CREATE audit entry, got %+v", h.audit.entries)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].Type != notify.TypeContractCreated {
		t.Fatalf("expected created notification, got %+v", h.notifier.events)
	}
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness("0", false)
	ctx := context.Background()

	p := createParams("10")
	p.SellerMobile = "+1-555-0001"
	if _, err := h.svc.Create(ctx, creator, p); !errors.Is(err, ErrSameParties) {
		t.Fatalf("expected ErrSameParties, got %v", err)
	}

	p = createParams("10")
	p.FeesPaidBy = "platform"
	if _, err := h.svc.Create(ctx, creator, p); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	p = createParams("-1")
	if _, err := h.svc.Create(ctx, creator, p); !errors.Is(err, ErrInvalidFeeAmount) {
		t.Fatalf("expected ErrInvalidFeeAmount, got %v", err)
	}

	p = createParams("10")
	p.BuyerMobile = ""
	if _, err := h.svc.Create(ctx, creator, p); !errors.Is(err, ErrMobileRequired) {
		t.Fatalf("expected ErrMobileRequired, got %v", err)
	}

	if len(h.pool.Txs) != 0 {
		t.Fatalf("expected validation to fail before any transaction, got %d", len(h.pool.Txs))
	}
}

func TestCreate_IdentityFailureIsDependency(t *testing.T) {
	h := newHarness("0", false)
	h.ids.err = apperr.Dependency("auth.identity_unavailable", errors.New("db down"))

	_, err := h.svc.Create(context.Background(), creator, createParams("10"))
	if !apperr.Is(err, apperr.KindDependencyFailure) {
		t.Fatalf("expected dependency failure, got %v", err)
	}
}

func TestCreate_MonthlyLimit(t *testing.T) {
	h := newHarness("10000", false,
		Contract{ID: 1, CreatorID: 1, FeeAmount: dec("9000"), CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		Contract{ID: 2, CreatorID: 1, FeeAmount: dec("500"), CreatedAt: time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)},
		Contract{ID: 3, CreatorID: 1, FeeAmount: dec("7000"), CreatedAt: time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)},
		Contract{ID: 4, CreatorID: 2, FeeAmount: dec("7000"), CreatedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, creator, createParams("600"))
	if !errors.Is(err, ErrLimitExceeded) || !apperr.Is(err, apperr.KindLimitExceeded) {
		t.Fatalf("expected LimitExceeded, got %v", err)
	}
	if len(h.repo.rows) != 4 || len(h.audit.entries) != 0 {
		t.Fatalf("expected nothing written on rejection")
	}

	if _, err := h.svc.Create(ctx, creator, createParams("500")); err != nil {
		t.Fatalf("expected fee reaching the ceiling exactly to pass, got %v", err)
	}
	if _, err := h.svc.Create(ctx, creator, createParams("0.01")); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected cap reached, got %v", err)
	}
	if h.repo.lockCalls != 0 {
		t.Fatalf("expected no creator lock outside strict mode")
	}
}

func TestCreate_MonthlyLimitStrictLocksCreator(t *testing.T) {
	h := newHarness("100", true)

	if _, err := h.svc.Create(context.Background(), creator, createParams("50")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.repo.lockCalls != 1 {
		t.Fatalf("expected creator lock in strict mode, got %d", h.repo.lockCalls)
	}
}

func TestMonthWindow(t *testing.T) {
	from, to := MonthWindow(time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("x", -3*3600)))
	if !from.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected UTC January 2025 window, got %s - %s", from, to)
	}
}

func TestUpdateStatus_EscrowStampSetOnce(t *testing.T) {
	h := newHarness("0", false)
	ctx := context.Background()
	res, err := h.svc.Create(ctx, creator, createParams("100"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Contract.ID

	first := h.clock
	res, err = h.svc.UpdateStatus(ctx, creator, StatusParams{ContractID: id, Status: StatusEscrow})
	if err != nil {
		t.Fatalf("to escrow: %v", err)
	}
	if res.Contract.EscrowStatusUpdatedAt == nil || !res.Contract.EscrowStatusUpdatedAt.Equal(first) {
		t.Fatalf("expected escrow stamp %s, got %v", first, res.Contract.EscrowStatusUpdatedAt)
	}

	h.clock = h.clock.Add(72 * time.Hour)
	if _, err := h.svc.UpdateStatus(ctx, creator, StatusParams{ContractID: id, Status: StatusPending}); err != nil {
		t.Fatalf("to pending: %v", err)
	}
	res, err = h.svc.UpdateStatus(ctx, creator, StatusParams{ContractID: id, Status: StatusEscrow, Reason: "funds again"})
	if err != nil {
		t.Fatalf("re-enter escrow: %v", err)
	}
	if !res.Contract.EscrowStatusUpdatedAt.Equal(first) {
		t.Fatalf("expected original escrow stamp kept, got %v", res.Contract.EscrowStatusUpdatedAt)
	}
	if res.Contract.StatusReason == nil || *res.Contract.StatusReason != "funds again" {
		t.Fatalf("expected reason stored, got %v", res.Contract.StatusReason)
	}
	if len(h.audit.entries) != 4 {
		t.Fatalf("expected 4 audit entries, got %d", len(h.audit.entries))
	}
	last := h.audit.entries[3]
	if last.Operation != audit.OperationUpdate || last.Previous.(Contract).Status != StatusPending || last.New.(Contract).Status != StatusEscrow {
		t.Fatalf("expected before/after snapshots, got %+v", last)
	}
}

func TestUpdateStatus_Rejections(t *testing.T) {
	buyer := int64(5)
	h := newHarness("0", false, Contract{ID: 1, CreatorID: 1, BuyerID: &buyer, Status: StatusEscrow, IsActive: true})
	ctx := context.Background()

	if _, err := h.svc.UpdateStatus(ctx, admin, StatusParams{ContractID: 1, Status: StatusDispute}); !errors.Is(err, ErrDisputeTransition) {
		t.Fatalf("expected ErrDisputeTransition, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, auth.Actor{UserID: 7}, StatusParams{ContractID: 1, Status: StatusCompleted}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, admin, StatusParams{ContractID: 2, Status: StatusCompleted}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, admin, StatusParams{ContractID: 1, Status: "Paid"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	res, err := h.svc.UpdateStatus(ctx, auth.Actor{UserID: buyer}, StatusParams{ContractID: 1, Status: StatusCompleted})
	if err != nil || res.Contract.Status != StatusCompleted {
		t.Fatalf("expected buyer to complete contract, got %+v err=%v", res.Contract, err)
	}
	if len(h.audit.entries) != 1 {
		t.Fatalf("expected only the successful transition audited, got %d", len(h.audit.entries))
	}
}

func TestAuditFailureRollsBackMutation(t *testing.T) {
	h := newHarness("0", false, Contract{ID: 1, CreatorID: 1, Status: StatusDraft, IsActive: true})
	h.audit.err = errors.New("insert failed")

	if _, err := h.svc.UpdateStatus(context.Background(), creator, StatusParams{ContractID: 1, Status: StatusPending}); err == nil {
		t.Fatalf("expected error")
	}
	if h.repo.rows[1].Status != StatusDraft {
		t.Fatalf("expected contract unchanged, got %s", h.repo.rows[1].Status)
	}
	if tx := h.pool.Last(); tx.Committed || !tx.RolledBack {
		t.Fatalf("expected rollback, got %+v", tx)
	}
}

func TestNotificationFailureIsWarning(t *testing.T) {
	h := newHarness("0", false)
	h.notifier.warnings = []string{"notification.push_failed"}

	res, err := h.svc.Create(context.Background(), creator, createParams("10"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "notification.push_failed" {
		t.Fatalf("expected warning, got %v", res.Warnings)
	}
	if h.pool.Committed() != 1 {
		t.Fatalf("expected core mutation committed")
	}
}

func TestToggleActive(t *testing.T) {
	h := newHarness("0", false, Contract{ID: 1, CreatorID: 1, Status: StatusEscrow, IsActive: true})
	ctx := context.Background()

	if _, err := h.svc.ToggleActive(ctx, creator, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected non-admin rejected, got %v", err)
	}
	res, err := h.svc.ToggleActive(ctx, admin, 1)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Contract.IsActive || res.Contract.Status != StatusEscrow {
		t.Fatalf("expected inactive with status untouched, got %+v", res.Contract)
	}
	res, _ = h.svc.ToggleActive(ctx, admin, 1)
	if !res.Contract.IsActive {
		t.Fatalf("expected second toggle to resume")
	}
	if len(h.audit.entries) != 2 || h.audit.entries[0].Remark != "contract suspended" {
		t.Fatalf("expected toggles audited, got %+v", h.audit.entries)
	}
}

func TestEdit_RecomputesSplit(t *testing.T) {
	h := newHarness("0", false)
	ctx := context.Background()
	res, err := h.svc.Create(ctx, creator, createParams("1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fee := dec("2000")
	policy := "seller"
	kind := "vehicle"
	res, err = h.svc.Edit(ctx, creator, EditParams{ContractID: res.Contract.ID, FeeAmount: &fee, FeesPaidBy: &policy, TransactionType: &kind})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	c := res.Contract
	if !c.EscrowTax.Equal(dec("40")) || !c.TaxAmount.IsZero() || c.SellerPayableAmount != "1960" || c.BuyerPayableAmount != "2000" {
		t.Fatalf("unexpected recomputed split %+v", c)
	}

	if _, err := h.svc.Edit(ctx, auth.Actor{UserID: 100}, EditParams{ContractID: c.ID, FeeAmount: &fee}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected buyer edit rejected, got %v", err)
	}
	same := "+15550002"
	if _, err := h.svc.Edit(ctx, creator, EditParams{ContractID: c.ID, BuyerMobile: &same}); !errors.Is(err, ErrSameParties) {
		t.Fatalf("expected ErrSameParties, got %v", err)
	}
}

func TestModify_RequiresMilestones(t *testing.T) {
	h := newHarness("0", false, Contract{ID: 1, CreatorID: 1, BuyerMobile: "1", SellerMobile: "2", FeesPaidBy: "buyer"})
	ctx := context.Background()

	if _, err := h.svc.Modify(ctx, creator, EditParams{ContractID: 1}, nil); !errors.Is(err, ErrMilestoneRequired) {
		t.Fatalf("expected ErrMilestoneRequired, got %v", err)
	}
	res, err := h.svc.Modify(ctx, creator, EditParams{ContractID: 1}, []milestone.Input{{Name: "phase 1", Amount: dec("10")}})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if len(res.Contract.Milestones) != 1 {
		t.Fatalf("expected milestone in result, got %+v", res.Contract.Milestones)
	}
	if h.audit.entries[0].Remark != "contract modified" {
		t.Fatalf("unexpected remark %q", h.audit.entries[0].Remark)
	}
}

func TestDelete_SoftDeletes(t *testing.T) {
	h := newHarness("0", false, Contract{ID: 1, CreatorID: 1, Status: StatusDraft, IsActive: true})
	ctx := context.Background()

	if _, err := h.svc.Delete(ctx, auth.Actor{UserID: 2}, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := h.svc.Delete(ctx, creator, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if row := h.repo.rows[1]; !row.IsDeleted || row.IsActive {
		t.Fatalf("expected soft-deleted row, got %+v", row)
	}
	if _, err := h.svc.Get(ctx, creator, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted contract hidden, got %v", err)
	}
}

func TestApplyStatus(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 123456789, time.UTC)
	c := Contract{Status: StatusAccepted}
	if err := ApplyStatus(&c, StatusEscrow, "", now); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.EscrowStatusUpdatedAt == nil || !c.EscrowStatusUpdatedAt.Equal(now.Truncate(time.Microsecond)) {
		t.Fatalf("expected escrow stamp, got %v", c.EscrowStatusUpdatedAt)
	}
	stamp := *c.EscrowStatusUpdatedAt
	_ = ApplyStatus(&c, StatusEscrow, "", now.Add(time.Hour))
	if !c.EscrowStatusUpdatedAt.Equal(stamp) {
		t.Fatalf("expected stamp kept on re-entry")
	}
	if err := ApplyStatus(&c, "Nope", "", now); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if s, err := ParseStatus(" escrow "); err != nil || s != StatusEscrow {
		t.Fatalf("expected case-insensitive parse, got %q %v", s, err)
	}
}

func TestTally(t *testing.T) {
	got := tally([]countGroup{
		{status: StatusDraft, active: true, n: 2},
		{status: StatusEscrow, active: false, n: 1},
		{status: StatusCompleted, active: true, n: 3},
		{status: StatusDispute, active: true, n: 1},
	})
	if got.Total != 7 || got.Active != 3 || got.Inactive != 4 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if got.ByStatus[StatusCompleted] != 3 || got.ByStatus[StatusExpired] != 0 {
		t.Fatalf("unexpected per-status counts %+v", got.ByStatus)
	}
}

func TestAuditSnapshotsCarryMilestones(t *testing.T) {
	h := newHarness("0", false)
	ctx := context.Background()
	p := createParams("1000")
	p.Milestones = []milestone.Input{{Name: "deposit", Amount: dec("400")}, {Name: "delivery", Amount: dec("600")}}
	res, err := h.svc.Create(ctx, creator, p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Contract.ID

	if _, err := h.svc.UpdateStatus(ctx, creator, StatusParams{ContractID: id, Status: StatusEscrow}); err != nil {
		t.Fatalf("to escrow: %v", err)
	}
	if _, err := h.svc.ToggleActive(ctx, admin, id); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if len(h.audit.entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(h.audit.entries))
	}
	for i, e := range h.audit.entries {
		if got := len(e.New.(Contract).Milestones); got != 2 {
			t.Fatalf("entry %d: expected 2 milestones in new snapshot, got %d", i, got)
		}
		if e.Previous != nil {
			if got := len(e.Previous.(Contract).Milestones); got != 2 {
				t.Fatalf("entry %d: expected 2 milestones in previous snapshot, got %d", i, got)
			}
		}
	}
}

func TestEdit_RejectedPartiesCreateNoUsers(t *testing.T) {
	h := newHarness("0", false, Contract{ID: 1, CreatorID: 1, BuyerMobile: "+15550001", SellerMobile: "+15550002", FeesPaidBy: "buyer"})
	ctx := context.Background()

	same := "+1 555 0002"
	if _, err := h.svc.Edit(ctx, creator, EditParams{ContractID: 1, BuyerMobile: &same}); !errors.Is(err, ErrSameParties) {
		t.Fatalf("expected ErrSameParties, got %v", err)
	}
	fresh := "+15550009"
	if _, err := h.svc.Edit(ctx, auth.Actor{UserID: 7}, EditParams{ContractID: 1, BuyerMobile: &fresh}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if h.ids.calls != 0 || len(h.pool.Txs) != 0 {
		t.Fatalf("expected no identity writes and no tx, got %d calls %d txs", h.ids.calls, len(h.pool.Txs))
	}

	res, err := h.svc.Edit(ctx, creator, EditParams{ContractID: 1, BuyerMobile: &fresh})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if h.ids.calls != 1 || res.Contract.BuyerMobile != "+15550009" {
		t.Fatalf("expected one identity lookup and new buyer, got %d %+v", h.ids.calls, res.Contract)
	}
}

// Without strict mode two creates can both read the monthly sum before either
// inserts. The race is accepted; strict mode closes it.
func TestLimitGuard_DefaultModeAcceptsRace(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(func() time.Time { return now },
		Contract{ID: 1, CreatorID: 1, FeeAmount: dec("500"), CreatedAt: now.Add(-time.Hour)})
	guard := NewLimitGuard(repo, dec("1000"), false)
	ctx := context.Background()
	pool := &fakedb.Pool{}
	tx1, _ := pool.Begin(ctx)
	tx2, _ := pool.Begin(ctx)

	if err := guard.Check(ctx, tx1, 1, dec("400"), now); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := guard.Check(ctx, tx2, 1, dec("400"), now); err != nil {
		t.Fatalf("second check: %v", err)
	}
	for _, tx := range []pgx.Tx{tx1, tx2} {
		if _, err := repo.Insert(ctx, tx, Contract{CreatorID: 1, FeeAmount: dec("400")}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	if repo.lockCalls != 0 {
		t.Fatalf("expected no creator lock in default mode, got %d", repo.lockCalls)
	}
	sum, _ := repo.SumCreatorFees(ctx, nil, 1, now.Add(-24*time.Hour), now)
	if !sum.Equal(dec("1300")) {
		t.Fatalf("expected the cap overshot to 1300, got %s", sum)
	}
}
