package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/apperr"
	"escrowflow/auth"
	"escrowflow/commission"
	"escrowflow/contract"
	"escrowflow/dispute"
)

// Env is the set of services the actors drive. Actors go through the same
// service layer the API does so the oracles check real code paths.
type Env struct {
	Pool        *pgxpool.Pool
	Contracts   *contract.Service
	Disputes    *dispute.Service
	Commissions *commission.Service
	Admin       auth.Actor
	Registry    *Registry
	Stats       *Stats
}

// Stats counts outcomes across actors. Domain rejections are expected under
// contention; infrastructure errors are expected while chaos runs.
type Stats struct {
	Created       atomic.Int64
	LimitRejected atomic.Int64
	Transitions   atomic.Int64
	Disputes      atomic.Int64
	Rejected      atomic.Int64
	Infra         atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("created=%d limit_rejected=%d transitions=%d disputes=%d rejected=%d infra=%d",
		s.Created.Load(), s.LimitRejected.Load(), s.Transitions.Load(), s.Disputes.Load(), s.Rejected.Load(), s.Infra.Load())
}

func (s *Stats) observe(err error) {
	var appErr *apperr.Error
	switch {
	case err == nil:
	case errors.Is(err, contract.ErrLimitExceeded):
		s.LimitRejected.Add(1)
	case errors.As(err, &appErr):
		s.Rejected.Add(1)
	default:
		s.Infra.Add(1)
	}
}

// Registry remembers contracts created during the run.
type Registry struct {
	mu  sync.Mutex
	ids []int64
}

func (r *Registry) add(id int64) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *Registry) pick() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return 0, false
	}
	return r.ids[rand.Intn(len(r.ids))], true
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

// Creator races other creators sharing the same creator id against the
// monthly fee cap.
func Creator(ctx context.Context, env *Env, creator auth.Actor, index int, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		fee := decimal.NewFromInt(int64(100 + rand.Intn(1400)))
		res, err := env.Contracts.Create(ctx, creator, contract.CreateParams{
			Title:           fmt.Sprintf("stress %d/%d", index, n),
			TransactionType: "vehicle",
			BuyerName:       "Buyer",
			BuyerMobile:     fmt.Sprintf("+9665%08d", index*100000+n),
			SellerName:      "Seller",
			SellerMobile:    fmt.Sprintf("+9664%08d", index*100000+n),
			FeeAmount:       fee,
			FeesPaidBy:      []string{"buyer", "seller", "50", "halfPayment"}[rand.Intn(4)],
		})
		env.Stats.observe(err)
		if err == nil {
			env.Stats.Created.Add(1)
			env.Registry.add(res.Contract.ID)
		}
		pause(10, 20)
	}
	return nil
}

// Escrower moves random contracts through Accepted and Escrow, re-entering
// Escrow to exercise the set-once timestamp.
func Escrower(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id, ok := env.Registry.pick()
		if !ok {
			pause(20, 20)
			continue
		}
		c, err := env.Contracts.Get(ctx, env.Admin, id)
		if err != nil {
			env.Stats.observe(err)
			continue
		}
		next := contract.StatusEscrow
		if c.Status == contract.StatusEscrow && rand.Intn(2) == 0 {
			next = contract.StatusAccepted
		}
		buyer := auth.Actor{UserID: *c.BuyerID, Role: auth.RoleUser}
		_, err = env.Contracts.UpdateStatus(ctx, buyer, contract.StatusParams{ContractID: id, Status: next})
		env.Stats.observe(err)
		if err == nil {
			env.Stats.Transitions.Add(1)
		}
		pause(20, 40)
	}
	return nil
}

// Disputer raises disputes as the seller on whatever contract it picks. Most
// attempts are rejected because the contract is not in Escrow.
func Disputer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id, ok := env.Registry.pick()
		if !ok {
			pause(50, 50)
			continue
		}
		c, err := env.Contracts.Get(ctx, env.Admin, id)
		if err != nil {
			env.Stats.observe(err)
			continue
		}
		seller := auth.Actor{UserID: *c.SellerID, Role: auth.RoleUser}
		_, err = env.Disputes.Create(ctx, seller, dispute.CreateParams{ContractID: id, Reason: "item not as described"})
		env.Stats.observe(err)
		if err == nil {
			env.Stats.Disputes.Add(1)
		}
		pause(80, 120)
	}
	return nil
}

// Arbiter walks open disputes forward and resolves them, completing or
// cancelling the contract.
func Arbiter(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id, ok := env.Registry.pick()
		if !ok {
			pause(50, 50)
			continue
		}
		records, err := env.Disputes.List(ctx, env.Admin, id)
		if err != nil {
			env.Stats.observe(err)
			continue
		}
		for _, d := range records {
			params := dispute.UpdateParams{DisputeID: d.ID, Status: dispute.StatusInProgress}
			if d.Status == dispute.StatusInProgress {
				params.Status = dispute.StatusResolved
				params.ContractStatus = []contract.Status{contract.StatusCompleted, contract.StatusCancelled}[rand.Intn(2)]
			}
			_, err := env.Disputes.UpdateStatus(ctx, env.Admin, params)
			env.Stats.observe(err)
		}
		pause(100, 100)
	}
	return nil
}

// GlobalFlipper keeps moving the global flag between commission rows.
func GlobalFlipper(ctx context.Context, env *Env, ids []int64, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		err := env.Commissions.SetGlobal(ctx, ids[rand.Intn(len(ids))])
		env.Stats.observe(err)
		pause(30, 30)
	}
	return nil
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks processed or retried.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id::text FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
