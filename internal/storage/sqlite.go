package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			device_id TEXT NOT NULL,
			subject_id TEXT,
			source TEXT,
			safety_score INTEGER NOT NULL,
			risk_level TEXT NOT NULL,
			anomaly_detected INTEGER NOT NULL,
			score_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_device_ts ON assessments(device_id, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			device_id TEXT NOT NULL,
			subject_id TEXT,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			evidence_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS risk_zones (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			zone_type TEXT NOT NULL,
			geometry_json TEXT NOT NULL,
			risk_level INTEGER NOT NULL,
			description TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT
		)`,
	},
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:safeguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under the worker pool
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, dialect: sqliteDialect}, nil
}
