// Package dbtest starts a throwaway Postgres for repository integration
// tests and applies the embedded schema.
package dbtest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/db"
	"github.com/smmrizwan/hemodialysis-sub001/migrations"
)

// EnvURL names a database to use instead of starting a container.
const EnvURL = "TEST_DATABASE_URL"

const image = "postgres:16-alpine"

// Start returns a migrated pool and a cleanup func. It connects to
// TEST_DATABASE_URL when set, otherwise runs a postgres container through the
// docker CLI.
func Start(ctx context.Context) (*pgxpool.Pool, func(), error) {
	connStr := os.Getenv(EnvURL)
	stop := func() {}
	if connStr == "" {
		var err error
		connStr, stop, err = startContainer(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if _, err := db.NewMigrator(pool, migrations.FS, zerolog.Nop()).Up(ctx); err != nil {
		pool.Close()
		stop()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return pool, func() {
		pool.Close()
		stop()
	}, nil
}

// Reset empties every application table.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE lab_panel, patient CASCADE`)
	return err
}

func startContainer(ctx context.Context) (string, func(), error) {
	port, err := freePort()
	if err != nil {
		return "", nil, fmt.Errorf("find free port: %w", err)
	}

	name := fmt.Sprintf("hd-integration-%d", port)
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()

	out, err := exec.CommandContext(ctx, "docker", "run",
		"--name", name,
		"-d",
		"-p", fmt.Sprintf("%d:5432", port),
		"-e", "POSTGRES_USER=hd",
		"-e", "POSTGRES_PASSWORD=hd",
		"-e", "POSTGRES_DB=hdtest",
		image,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w\noutput: %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	stop := func() { _ = exec.Command("docker", "rm", "-f", id).Run() }

	connStr := fmt.Sprintf("postgres://hd:hd@localhost:%d/hdtest?sslmode=disable", port)
	if err := waitReady(ctx, connStr, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitReady(ctx context.Context, connStr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pool, err := pgxpool.New(pingCtx, connStr)
		if err == nil {
			err = pool.Ping(pingCtx)
			pool.Close()
		}
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("postgres not ready after %v", timeout)
}
