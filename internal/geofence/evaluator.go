// Package geofence evaluates positions against the configured risk zones.
package geofence

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"safeguard/internal/model"
)

// index is immutable once published.
type index struct {
	zones  []model.RiskZone // every zone, by id
	byID   map[string]int
	active []model.RiskZone // active zones in violation order
}

func buildIndex(zones []model.RiskZone) (*index, error) {
	idx := &index{
		zones: make([]model.RiskZone, 0, len(zones)),
		byID:  make(map[string]int, len(zones)),
	}
	for _, z := range zones {
		if err := Validate(z); err != nil {
			return nil, err
		}
		if _, dup := idx.byID[z.ID]; dup {
			return nil, model.ZoneInvalid(z.ID, "duplicate id")
		}
		z.Geometry.Ring = slices.Clone(z.Geometry.Ring)
		idx.byID[z.ID] = len(idx.zones)
		idx.zones = append(idx.zones, z)
	}
	slices.SortFunc(idx.zones, func(a, b model.RiskZone) int { return strings.Compare(a.ID, b.ID) })
	for i, z := range idx.zones {
		idx.byID[z.ID] = i
		if z.Active {
			idx.active = append(idx.active, z)
		}
	}
	slices.SortStableFunc(idx.active, byPriority)
	return idx, nil
}

// byPriority puts the most dangerous zone first and breaks ties by id.
func byPriority(a, b model.RiskZone) int {
	if a.RiskLevel != b.RiskLevel {
		return b.RiskLevel - a.RiskLevel
	}
	return strings.Compare(a.ID, b.ID)
}

// Evaluator answers containment queries against an atomically swapped zone
// index. Queries never block; updates are serialized among themselves.
type Evaluator struct {
	idx    atomic.Pointer[index]
	mu     sync.Mutex
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger}
	e.idx.Store(&index{byID: map[string]int{}})
	return e
}

// Replace validates zones and publishes them as the new index. On error the
// current index stays in place.
func (e *Evaluator) Replace(zones []model.RiskZone) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := buildIndex(zones)
	if err != nil {
		return err
	}
	e.idx.Store(idx)
	e.logger.Info("zone index replaced", "zones", len(idx.zones), "active", len(idx.active))
	return nil
}

// Apply folds administrative events into a copy of the current zones and
// swaps the rebuilt index in.
func (e *Evaluator) Apply(events ...model.ZoneEvent) error {
	if len(events) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.idx.Load()
	zones := make(map[string]model.RiskZone, len(cur.zones))
	for _, z := range cur.zones {
		zones[z.ID] = z
	}
	for _, ev := range events {
		switch ev.Op {
		case model.ZoneUpsert:
			if err := Validate(ev.Zone); err != nil {
				return err
			}
			zones[ev.Zone.ID] = ev.Zone
		case model.ZoneDeactivate:
			z, ok := zones[ev.Zone.ID]
			if !ok {
				return fmt.Errorf("deactivate unknown zone %q", ev.Zone.ID)
			}
			z.Active = false
			zones[z.ID] = z
		case model.ZoneDelete:
			delete(zones, ev.Zone.ID)
		default:
			return fmt.Errorf("unknown zone op %q", ev.Op)
		}
	}
	list := make([]model.RiskZone, 0, len(zones))
	for _, z := range zones {
		list = append(list, z)
	}
	idx, err := buildIndex(list)
	if err != nil {
		return err
	}
	e.idx.Store(idx)
	e.logger.Debug("zone events applied", "events", len(events), "zones", len(idx.zones))
	return nil
}

// Violations returns the active zones containing the point, most dangerous
// first, then by id.
func (e *Evaluator) Violations(lat, lon float64) []model.RiskZone {
	idx := e.idx.Load()
	p := model.Point{Lat: lat, Lon: lon}
	var out []model.RiskZone
	for _, z := range idx.active {
		if Contains(z.Geometry, p) {
			out = append(out, z)
		}
	}
	return out
}

// Nearby is a zone together with its approximate boundary distance.
type Nearby struct {
	Zone       model.RiskZone `json:"zone"`
	DistanceKm float64        `json:"distance_km"`
}

// NearbyZones returns active zones whose boundary lies within radiusKm of
// the point, nearest first.
func (e *Evaluator) NearbyZones(lat, lon, radiusKm float64) []Nearby {
	idx := e.idx.Load()
	p := model.Point{Lat: lat, Lon: lon}
	var out []Nearby
	for _, z := range idx.active {
		if d := DistanceKm(z.Geometry, p); d <= radiusKm {
			out = append(out, Nearby{Zone: z, DistanceKm: d})
		}
	}
	slices.SortFunc(out, func(a, b Nearby) int {
		switch {
		case a.DistanceKm < b.DistanceKm:
			return -1
		case a.DistanceKm > b.DistanceKm:
			return 1
		}
		return strings.Compare(a.Zone.ID, b.Zone.ID)
	})
	return out
}

// NearestDistanceKm is the boundary distance of the closest active zone,
// or -1 when there are none.
func (e *Evaluator) NearestDistanceKm(lat, lon float64) float64 {
	idx := e.idx.Load()
	p := model.Point{Lat: lat, Lon: lon}
	best := -1.0
	for _, z := range idx.active {
		if d := DistanceKm(z.Geometry, p); best < 0 || d < best {
			best = d
		}
	}
	return best
}

// Zones returns a copy of every zone, active or not, ordered by id.
func (e *Evaluator) Zones() []model.RiskZone {
	return slices.Clone(e.idx.Load().zones)
}

func (e *Evaluator) Zone(id string) (model.RiskZone, bool) {
	idx := e.idx.Load()
	i, ok := idx.byID[id]
	if !ok {
		return model.RiskZone{}, false
	}
	return idx.zones[i], true
}

func (e *Evaluator) Len() int {
	return len(e.idx.Load().zones)
}

// IDs flattens zones to their ids, preserving order.
func IDs(zones []model.RiskZone) []string {
	out := make([]string, len(zones))
	for i, z := range zones {
		out[i] = z.ID
	}
	return out
}
