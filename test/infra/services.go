package infra

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/commission"
	"escrowflow/contract"
	"escrowflow/dispute"
	"escrowflow/logging"
	"escrowflow/milestone"
	"escrowflow/notify"
)

// Services is the production service graph over one pool, minus Redis and
// push delivery.
type Services struct {
	Identities  *auth.Service
	Commissions *commission.Service
	Contracts   *contract.Service
	Disputes    *dispute.Service
	Audit       *audit.Logger
	Milestones  *milestone.Ledger
}

type WireOptions struct {
	MonthlyFeeLimit decimal.Decimal
	StrictLimit     bool
	DisputeWindow   time.Duration
	Now             func() time.Time
}

// Wire builds the services the same way cmd/api does.
func Wire(pool *pgxpool.Pool, opts WireOptions) *Services {
	log := logging.Nop()
	if opts.DisputeWindow <= 0 {
		opts.DisputeWindow = dispute.DefaultWindow
	}

	identities := auth.NewService(auth.NewRepository(pool), nil, nil, "integration-secret", auth.Options{})
	commissions := commission.NewService(pool, commission.NewRepository(pool))
	dispatcher := notify.NewDispatcher(log, time.Second, notify.NewOutboxSink(pool))
	auditLog := audit.NewLogger(pool)
	ledger := milestone.NewLedger(milestone.NewRepository(pool))

	contractRepo := contract.NewRepository(pool)
	contracts := contract.NewService(contract.Deps{
		Pool:        pool,
		Repo:        contractRepo,
		Milestones:  ledger,
		Commissions: commissions,
		Identities:  identities,
		Audit:       auditLog,
		Notifier:    dispatcher,
		Guard:       contract.NewLimitGuard(contractRepo, opts.MonthlyFeeLimit, opts.StrictLimit),
		Log:         log,
		Now:         opts.Now,
	})
	disputes := dispute.NewService(pool, dispute.NewRepository(pool), contracts,
		dispute.NewWindow(opts.DisputeWindow), dispatcher, log)

	return &Services{
		Identities:  identities,
		Commissions: commissions,
		Contracts:   contracts,
		Disputes:    disputes,
		Audit:       auditLog,
		Milestones:  ledger,
	}
}
