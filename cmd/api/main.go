package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/commission"
	"escrowflow/config"
	"escrowflow/contract"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/i18n"
	"escrowflow/logging"
	"escrowflow/milestone"
	"escrowflow/notify"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("escrowflow: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := auth.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	messages, err := i18n.Load(cfg.DefaultLanguage)
	if err != nil {
		return err
	}

	authService := auth.NewService(
		auth.NewRepository(pool),
		auth.NewRedisOTPStore(redisClient),
		logSMS{log: logger},
		cfg.JWTSecret,
		auth.Options{OTPTTL: cfg.OTPTTL, TokenTTL: cfg.TokenTTL},
	)
	commissionService := commission.NewService(pool, commission.NewRepository(pool))
	dispatcher := notify.NewDispatcher(logger, cfg.NotifyTimeout,
		notify.NewOutboxSink(pool),
		notify.NewPushSink(authService, notify.NewLogPusher(logger)),
	).WithMessages(messages, cfg.DefaultLanguage)

	contractRepo := contract.NewRepository(pool)
	contractService := contract.NewService(contract.Deps{
		Pool:        pool,
		Repo:        contractRepo,
		Milestones:  milestone.NewLedger(milestone.NewRepository(pool)),
		Commissions: commissionService,
		Identities:  authService,
		Audit:       audit.NewLogger(pool),
		Notifier:    dispatcher,
		Guard:       contract.NewLimitGuard(contractRepo, cfg.MonthlyFeeLimit, cfg.MonthlyLimitStrict),
		Log:         logger.With("component", "contract"),
	})
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), contractService,
		dispute.NewWindow(cfg.DisputeWindow), dispatcher, logger.With("component", "dispute"))

	server := &Server{
		contracts:   contractService,
		disputes:    disputeService,
		commissions: commissionService,
		auth:        authService,
		messages:    messages,
		log:         logger.With("component", "http"),
		ready:       pool.Ping,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// logSMS stands in for an SMS gateway.
type logSMS struct {
	log *logging.Logger
}

func (s logSMS) SendOTP(_ context.Context, mobile, code string) error {
	s.log.Info("otp issued", "mobile", mobile, "otp", code)
	return nil
}
