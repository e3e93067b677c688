package infra

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated, isolated database for integration tests.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness reuses SharedDSN when set and boots a Postgres 16 container
// otherwise. Either way the schema is applied into a fresh search_path schema
// that Close drops.
func NewHarness(ctx context.Context) (*Harness, error) {
	pgC, dsn := &PGContainer{}, SharedDSN()
	if dsn == "" {
		var err error
		if pgC, dsn, err = StartPostgres16(ctx); err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	return &Harness{container: pgC, pool: pool, dsn: dsn, teardown: teardown}, nil
}

// Open returns a ready harness or skips the test when no database can be
// reached. The harness is closed through t.Cleanup.
func Open(t *testing.T) *Harness {
	t.Helper()
	if SharedDSN() == "" && !DockerAvailable() {
		t.Skip("DATABASE_URL not set and docker unavailable")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := NewHarness(ctx)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates mutable tables to provide a clean slate between cases.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"contract_details_logs",
		"disputes",
		"milestones",
		"contracts",
		"commission_masters",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// DockerAvailable reports whether a docker daemon answers.
func DockerAvailable() bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}
