// Package containers manages throwaway backing services for integration
// tests. Containers are shared per test binary and torn down by the
// testcontainers reaper.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a running postgres with an open handle and the
// schema applied.
type PostgresContainer struct {
	container *tcpostgres.PostgresContainer
	DB        *sql.DB
	URL       string
}

var (
	pgOnce sync.Once
	pgInst *PostgresContainer
	pgErr  error
)

// GetPostgres returns the shared postgres container, starting it on first
// use and applying migrations.
func GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	pgOnce.Do(func() {
		pgInst, pgErr = startPostgres()
	})
	if pgErr != nil {
		t.Fatalf("postgres container: %v", pgErr)
	}
	return pgInst
}

func startPostgres() (*PostgresContainer, error) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bima_test"),
		tcpostgres.WithUsername("bima"),
		tcpostgres.WithPassword("bima"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("connection string: %w", err)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		return nil, err
	}
	return &PostgresContainer{container: container, DB: db, URL: url}, nil
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	_, thisFile, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// TruncateTables clears the given tables between tests.
func (c *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := c.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
