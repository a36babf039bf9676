package geofence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"safeguard/internal/model"
)

type zoneFile struct {
	Zones []fileZone `yaml:"zones"`
}

// fileZone defaults Active to true when the key is omitted.
type fileZone struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Type        model.ZoneType `yaml:"type"`
	Geometry    model.Geometry `yaml:"geometry"`
	RiskLevel   int            `yaml:"risk_level"`
	Active      *bool          `yaml:"active"`
	Description string         `yaml:"description"`
}

// LoadZonesFile reads a YAML (or JSON) document with a top-level "zones"
// list and validates every entry.
func LoadZonesFile(path string) ([]model.RiskZone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseZones(data)
}

func ParseZones(data []byte) ([]model.RiskZone, error) {
	var doc zoneFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	zones := make([]model.RiskZone, 0, len(doc.Zones))
	seen := make(map[string]struct{}, len(doc.Zones))
	for _, fz := range doc.Zones {
		z := model.RiskZone{
			ID:          fz.ID,
			Name:        fz.Name,
			Type:        fz.Type,
			Geometry:    fz.Geometry,
			RiskLevel:   fz.RiskLevel,
			Active:      fz.Active == nil || *fz.Active,
			Description: fz.Description,
		}
		if err := Validate(z); err != nil {
			return nil, err
		}
		if _, dup := seen[z.ID]; dup {
			return nil, model.ZoneInvalid(z.ID, "duplicate id")
		}
		seen[z.ID] = struct{}{}
		zones = append(zones, z)
	}
	return zones, nil
}
