//go:build ignore
// +build ignore

// Creates the dispatch tables on a fresh PostgreSQL database.
//
// Usage:
//   DATABASE_URL=postgres://... go run scripts/setup_postgres_schema.go
package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS dispatch_send_records (
		id                  TEXT PRIMARY KEY,
		campaign_id         TEXT NOT NULL,
		recipient_id        TEXT NOT NULL,
		recipient_email     TEXT NOT NULL,
		status              TEXT NOT NULL,
		reserved_at         TIMESTAMPTZ NOT NULL,
		sent_at             TIMESTAMPTZ,
		provider_message_id TEXT,
		error_message       TEXT,
		retry_count         INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_send_records_campaign
		ON dispatch_send_records (campaign_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_send_records_email
		ON dispatch_send_records (recipient_email)`,

	`CREATE TABLE IF NOT EXISTS dispatch_recipients (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name  TEXT NOT NULL DEFAULT '',
		fields     JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS import_jobs (
		id                  TEXT PRIMARY KEY,
		file_name           TEXT NOT NULL,
		file_size           BIGINT NOT NULL DEFAULT 0,
		total_items         INTEGER NOT NULL,
		processed_items     INTEGER NOT NULL DEFAULT 0,
		successful_items    INTEGER NOT NULL DEFAULT 0,
		failed_items        INTEGER NOT NULL DEFAULT 0,
		duplicate_items     INTEGER NOT NULL DEFAULT 0,
		validation_errors   INTEGER NOT NULL DEFAULT 0,
		status              TEXT NOT NULL,
		chunk_size          INTEGER NOT NULL,
		current_batch_index INTEGER NOT NULL DEFAULT 0,
		total_batches       INTEGER NOT NULL,
		resume_from_item    INTEGER NOT NULL DEFAULT 0,
		chunk_history       JSONB NOT NULL DEFAULT '[]',
		max_processing_ms   BIGINT NOT NULL,
		auto_resume         BOOLEAN NOT NULL DEFAULT FALSE,
		started_at          TIMESTAMPTZ NOT NULL,
		completed_at        TIMESTAMPTZ,
		progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_jobs_status
		ON import_jobs (status, started_at DESC)`,
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	log.Println("schema ready")
}
