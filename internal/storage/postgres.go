package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			subject_id TEXT,
			source TEXT,
			safety_score INTEGER NOT NULL,
			risk_level TEXT NOT NULL,
			anomaly_detected BOOLEAN NOT NULL,
			score_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_device_ts ON assessments(device_id, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			subject_id TEXT,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			evidence_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS risk_zones (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			zone_type TEXT NOT NULL,
			geometry_json JSONB NOT NULL,
			risk_level INTEGER NOT NULL,
			description TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ
		)`,
	},
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/safeguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dialect: postgresDialect}, nil
}
