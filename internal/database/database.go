package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Info().Int("url_length", len(dbURL)).Msg("🔌 Connecting to database")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Error().Err(err).Msgf("❌ Database connection failed (%T)", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("❌ Database ping failed")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	log.Info().Msg("✅ Database connection successful")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS departments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			office_latitude DOUBLE PRECISION NOT NULL DEFAULT 27.7172,
			office_longitude DOUBLE PRECISION NOT NULL DEFAULT 85.3240
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('SUPER_ADMIN', 'DEPT_ADMIN', 'FIELD_OFFICIAL', 'CITIZEN')),
			department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,

		// One live row per field official; also owns availability
		`CREATE TABLE IF NOT EXISTS unit_locations (
			official_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		`CREATE TABLE IF NOT EXISTS emergency_requests (
			id TEXT PRIMARY KEY,
			citizen_id TEXT NOT NULL,
			service_type TEXT NOT NULL CHECK(service_type IN ('AMBULANCE', 'FIRE', 'POLICE')),
			dest_latitude DOUBLE PRECISION NOT NULL,
			dest_longitude DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('PENDING', 'DISPATCHED', 'EN_ROUTE', 'ARRIVED', 'CANCELLED')),
			assigned_unit_id TEXT REFERENCES users(id) ON DELETE SET NULL,
			route JSONB,
			route_step INT NOT NULL DEFAULT 0,
			route_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			CHECK(route_step >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emergency_requests_status ON emergency_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_emergency_requests_unit ON emergency_requests(assigned_unit_id)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			emergency_id TEXT REFERENCES emergency_requests(id) ON DELETE SET NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android', 'web')),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user ON fcm_tokens(user_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info().Int("statements", len(migrations)).Msg("✓ Database migrations completed")
	return nil
}
