// Command migrate runs database migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending control-plane migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate redo        # Roll back and re-apply last migration
//	go run ./cmd/migrate tenants     # Bring every tenant schema up to date
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/bakehouse/internal/logging"
	"github.com/mbd888/bakehouse/internal/tenancy"
	"github.com/mbd888/bakehouse/internal/tenant"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>, tenants")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	command := os.Args[1]
	args := os.Args[2:]

	if command == "tenants" {
		logger := logging.New(os.Getenv("LOG_LEVEL"), "text")
		schemas := tenancy.NewPostgresSchemas(db, dbURL, logger)
		n, err := tenancy.MigrateAll(ctx, tenant.NewPostgresStore(db), schemas, logger)
		if err != nil {
			log.Fatalf("Tenant migrations failed after %d schemas: %v", n, err)
		}
		log.Printf("Migrated %d tenant schemas", n)
		return
	}

	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
