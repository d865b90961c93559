// Package testutil starts a disposable Postgres for integration tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    pg := testutil.MustStartPostgres()
//	    testDB = pg.MustNewDB(testutil.TestLogger())
//	    code := m.Run()
//	    testDB.Close()
//	    pg.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mentora-platform/mentora/internal/storage"
	"github.com/mentora-platform/mentora/migrations"
)

const postgresImage = "postgres:17-alpine"

// Postgres is a running container and the DSN to reach it.
type Postgres struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container and exits the process on
// failure, which suits TestMain.
func MustStartPostgres() *Postgres {
	pg, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: %v\n", err)
		os.Exit(1)
	}
	return pg
}

// StartPostgres starts a Postgres container.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "mentora",
				"POSTGRES_PASSWORD": "mentora",
				"POSTGRES_DB":       "mentora",
			},
			// Postgres logs readiness twice: once for the init server, once for the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}

	return &Postgres{
		Container: container,
		DSN:       fmt.Sprintf("postgres://mentora:mentora@%s:%s/mentora?sslmode=disable", host, port.Port()),
	}, nil
}

// NewDB connects to the container and applies all migrations.
func (pg *Postgres) NewDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, pg.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// MustNewDB is NewDB that exits on failure.
func (pg *Postgres) MustNewDB(logger *slog.Logger) *storage.DB {
	db, err := pg.NewDB(context.Background(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		pg.Terminate()
		os.Exit(1)
	}
	return db
}

// Terminate stops and removes the container.
func (pg *Postgres) Terminate() {
	_ = pg.Container.Terminate(context.Background())
}

// TestLogger returns a logger that only shows warnings and errors.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
