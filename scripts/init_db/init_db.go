package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "siscom"),
		dbGetEnv("DB_PWD", "siscom"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_DATABASE", "siscom_admin"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	// Run all steps in order
	step1_trips_table(ctx, conn)
	step2_current_state_table(ctx, conn)
	step3_points_table(ctx, conn)
	step4_alerts_table(ctx, conn)
	step5_idle_activity_table(ctx, conn)
	step6_indexes(ctx, conn)
	step7_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — trips table
// ─────────────────────────────────────────────────────────────
func step1_trips_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: trips table ─────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trips (

			-- The trip id is the uuid of the ignition-on message that
			-- opened it, which makes trip creation idempotent under
			-- redelivery of that message
			trip_id               UUID             PRIMARY KEY,

			device_id             TEXT             NOT NULL,

			start_time            TIMESTAMPTZ      NOT NULL,
			start_lat             DOUBLE PRECISION,
			start_lng             DOUBLE PRECISION,
			start_odometer_meters DOUBLE PRECISION,

			-- NULL end_time means the trip is still open
			end_time              TIMESTAMPTZ,
			end_lat               DOUBLE PRECISION,
			end_lng               DOUBLE PRECISION,
			end_odometer_meters   DOUBLE PRECISION,

			distance_meters       DOUBLE PRECISION,

			CONSTRAINT chk_trip_times CHECK (
				end_time IS NULL OR end_time >= start_time
			)
		);
	`, "trips table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2 — trip_current_state table
// ─────────────────────────────────────────────────────────────
func step2_current_state_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: trip_current_state table ────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trip_current_state (

			-- One row per device. Locking this row (FOR UPDATE)
			-- serializes all trip processing for the device
			device_id            TEXT             PRIMARY KEY,

			-- Set iff the referenced trip has end_time IS NULL
			current_trip_id      UUID             REFERENCES trips (trip_id),
			ignition_on          BOOLEAN          NOT NULL DEFAULT false,

			-- Last-known telemetry, refreshed by every event
			last_point_at        TIMESTAMPTZ,
			last_lat             DOUBLE PRECISION,
			last_lng             DOUBLE PRECISION,
			last_speed           DOUBLE PRECISION,
			last_odometer_meters DOUBLE PRECISION,
			last_correlation_id  UUID,

			last_updated_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);
	`, "trip_current_state table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — trip_points table
// ─────────────────────────────────────────────────────────────
func step3_points_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: trip_points table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trip_points (

			point_id        BIGSERIAL        PRIMARY KEY,

			trip_id         UUID             NOT NULL REFERENCES trips (trip_id),
			device_id       TEXT             NOT NULL,
			timestamp       TIMESTAMPTZ      NOT NULL,

			lat             DOUBLE PRECISION NOT NULL,
			lng             DOUBLE PRECISION NOT NULL,
			speed           DOUBLE PRECISION,
			heading         DOUBLE PRECISION,
			ignition_on     BOOLEAN          NOT NULL DEFAULT true,
			odometer_meters DOUBLE PRECISION,

			correlation_id  UUID             NOT NULL,

			-- Redelivery of the same message must not duplicate the point
			CONSTRAINT uq_point_delivery UNIQUE (device_id, timestamp, correlation_id)
		);
	`, "trip_points table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4 — trip_alerts table
// ─────────────────────────────────────────────────────────────
func step4_alerts_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: trip_alerts table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trip_alerts (

			alert_id       UUID             PRIMARY KEY,

			-- NULL when no trip was open at the time of the alert
			trip_id        UUID             REFERENCES trips (trip_id),
			device_id      TEXT             NOT NULL,
			timestamp      TIMESTAMPTZ      NOT NULL,

			lat            DOUBLE PRECISION,
			lon            DOUBLE PRECISION,

			-- Must exactly match domain.AlertType constants
			alert_type     TEXT             NOT NULL,
			raw_code       INTEGER,
			severity       SMALLINT         NOT NULL DEFAULT 1,
			metadata       JSONB,

			correlation_id UUID             NOT NULL,

			CONSTRAINT chk_alert_type CHECK (
				alert_type IN (
					'ignition_on', 'ignition_off', 'power_cut',
					'jamming', 'low_backup_battery', 'unknown'
				)
			),

			-- Duplicate alert delivery is a no-op, not a new record
			CONSTRAINT uq_alert_delivery UNIQUE (device_id, correlation_id, timestamp)
		);
	`, "trip_alerts table created")
}

// ─────────────────────────────────────────────────────────────
// Step 5 — device_idle_activity table
// ─────────────────────────────────────────────────────────────
func step5_idle_activity_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: device_idle_activity table ──────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS device_idle_activity (

			idle_id        UUID             PRIMARY KEY,

			device_id      TEXT             NOT NULL,
			timestamp      TIMESTAMPTZ      NOT NULL,

			lat            DOUBLE PRECISION,
			lon            DOUBLE PRECISION,

			activity_type  TEXT             NOT NULL,
			raw_code       INTEGER,
			severity       SMALLINT         NOT NULL DEFAULT 1,
			metadata       JSONB,

			correlation_id UUID             NOT NULL,

			CONSTRAINT uq_idle_delivery UNIQUE (device_id, correlation_id, timestamp)
		);
	`, "device_idle_activity table created")
}

// ─────────────────────────────────────────────────────────────
// Step 6 — Indexes
// ─────────────────────────────────────────────────────────────
func step6_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_trips_device_start",
			sql: `CREATE INDEX IF NOT EXISTS idx_trips_device_start
				  ON trips (device_id, start_time DESC);`,
			why: "query: trip history for one device",
		},
		{
			name: "idx_trips_device_open",
			sql: `CREATE INDEX IF NOT EXISTS idx_trips_device_open
				  ON trips (device_id, start_time DESC)
				  WHERE end_time IS NULL;`,
			why: "query: latest open trip (repair path, partial index)",
		},
		{
			name: "idx_points_trip_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_points_trip_time
				  ON trip_points (trip_id, timestamp);`,
			why: "query: trajectory of one trip in order",
		},
		{
			name: "idx_alerts_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_device_time
				  ON trip_alerts (device_id, timestamp DESC);`,
			why: "query: alert log for one device",
		},
		{
			name: "idx_idle_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_idle_device_time
				  ON device_idle_activity (device_id, timestamp DESC);`,
			why: "query: idle activity for one device",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-30s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 7 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step7_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 7: Verification ────────────────────────")

	tables := []string{
		"trips", "trip_current_state", "trip_points",
		"trip_alerts", "device_idle_activity",
	}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('trips', 'trip_points', 'trip_alerts', 'device_idle_activity')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
