package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Container connection limit. The stress pool holds 64 connections and chaos
// reconnects on top of that.
const containerMaxConns = "200"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// SharedDSN returns an existing database to reuse instead of a container:
// DATABASE_URL first, then STRESS_TEST_PG_DSN.
func SharedDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return os.Getenv("STRESS_TEST_PG_DSN")
}

// StartPostgres16 boots a throwaway Postgres 16 and returns its DSN. The
// server runs in UTC so now() lines up with the UTC month windows the fee cap
// sums over and with escrow timestamps compared against the dispute window.
func StartPostgres16(ctx context.Context) (*PGContainer, string, error) {
	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("escrowflow"),
		postgres.WithUsername("escrow"),
		postgres.WithPassword("escrow"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithCmd("postgres",
			"-c", "timezone=UTC",
			"-c", "max_connections="+containerMaxConns,
		),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
