// Package storage is the SQL audit sink for assessments and alerts and the
// pull source for administered risk zones.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"safeguard/internal/config"
	"safeguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAssessment(ctx context.Context, a model.Assessment) error
	SaveAlert(ctx context.Context, rec model.AlertRecord) error
	// LoadZones returns every row of risk_zones, active or not.
	LoadZones(ctx context.Context) ([]model.RiskZone, error)
	// ReplaceZones swaps the whole risk_zones table in one transaction.
	ReplaceZones(ctx context.Context, zones []model.RiskZone) error
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// NewStore returns nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, ErrUnsupportedDriver
	}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
