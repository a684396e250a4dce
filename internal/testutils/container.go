// SPDX-License-Identifier: Apache-2.0

// Package testutils spins up a shared Postgres container for integration
// tests that need a real server (advisory locks, concurrent runners,
// catalog introspection) rather than a sqlmock double.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultPostgresVersion = "16.3"

var sharedConnStr string

// SharedTestMain starts one Postgres container for every test in the
// calling package; each test then creates its own database inside it via
// NewDatabase. Call this from a package's TestMain.
func SharedTestMain(m *testing.M) {
	if os.Getenv("WAYPOINT_SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	ctx := context.Background()

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		log.Printf("waypoint integration tests: could not start postgres container: %v", err)
		os.Exit(0)
	}

	sharedConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("waypoint integration tests: could not obtain connection string: %v", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("waypoint integration tests: failed to terminate container: %v", err)
	}
	os.Exit(code)
}

// NewDatabase creates a fresh database inside the shared container and
// returns its connection URL. Each test gets an isolated database so
// history-table state never leaks across tests.
func NewDatabase(t *testing.T) string {
	t.Helper()

	admin, err := sql.Open("postgres", sharedConnStr)
	if err != nil {
		t.Fatalf("connecting to shared container: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	name := fmt.Sprintf("waypoint_test_%d", time.Now().UnixNano())
	if _, err := admin.Exec(fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(name))); err != nil {
		t.Fatalf("creating test database: %v", err)
	}

	u, err := url.Parse(sharedConnStr)
	if err != nil {
		t.Fatalf("parsing shared connection string: %v", err)
	}
	u.Path = "/" + name

	return u.String()
}
