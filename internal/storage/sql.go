package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"safeguard/internal/model"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name   string
	schema []string
	// numbered placeholders ($1, $2...) instead of ?
	numbered bool
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) SaveAssessment(ctx context.Context, a model.Assessment) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO assessments (id, ts, device_id, subject_id, source, safety_score, risk_level, anomaly_detected, score_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID,
		a.Timestamp.UTC(),
		a.DeviceID,
		a.SubjectID,
		a.Source,
		a.Score.SafetyScore,
		a.Score.RiskLevel,
		a.Score.AnomalyDetected,
		encodeJSON(a.Score),
		nowUTC(),
	)
	return err
}

func (s *sqlStore) SaveAlert(ctx context.Context, rec model.AlertRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO alerts (id, ts, device_id, subject_id, alert_type, severity, message, evidence_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		rec.Timestamp.UTC(),
		rec.DeviceID,
		rec.SubjectID,
		rec.Type,
		string(rec.Severity),
		rec.Message,
		encodeJSON(rec.Evidence),
	)
	return err
}

func (s *sqlStore) LoadZones(ctx context.Context) ([]model.RiskZone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, zone_type, geometry_json, risk_level, description, is_active FROM risk_zones ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RiskZone
	for rows.Next() {
		var (
			z           model.RiskZone
			zoneType    string
			geometry    string
			description sql.NullString
		)
		if err := rows.Scan(&z.ID, &z.Name, &zoneType, &geometry, &z.RiskLevel, &description, &z.Active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(geometry), &z.Geometry); err != nil {
			return nil, model.ZoneInvalid(z.ID, "geometry_json: "+err.Error())
		}
		z.Type = model.ZoneType(zoneType)
		z.Description = description.String
		out = append(out, z)
	}
	return out, rows.Err()
}

func (s *sqlStore) ReplaceZones(ctx context.Context, zones []model.RiskZone) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM risk_zones`); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO risk_zones (id, name, zone_type, geometry_json, risk_level, description, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := nowUTC()
	for _, z := range zones {
		if _, err := stmt.ExecContext(ctx,
			z.ID,
			z.Name,
			string(z.Type),
			encodeJSON(z.Geometry),
			z.RiskLevel,
			z.Description,
			z.Active,
			now,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
