package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"safeguard/internal/config"
	"safeguard/internal/geofence"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
)

// ZoneLoader is the pull side of the zone store.
type ZoneLoader interface {
	LoadZones(ctx context.Context) ([]model.RiskZone, error)
}

// ZoneIndex is the live index the refresher maintains.
type ZoneIndex interface {
	Replace(zones []model.RiskZone) error
	Apply(events ...model.ZoneEvent) error
	Len() int
}

// ZoneRefresher rebuilds the index from the zones file and, when enabled,
// the risk_zones table. Table rows override file entries with the same id.
//
// Administrative changes made in this process survive refreshes: feed
// events are replayed on top of every rebuild, and a full replacement
// takes the place of the zones file (the table still wins when it is a
// source, since the replacement was written there).
type ZoneRefresher struct {
	cfg    *config.Manager
	store  ZoneLoader
	dst    ZoneIndex
	logger *slog.Logger

	mu       sync.Mutex
	replaced []model.RiskZone
	pinned   bool
	overlay  map[string]model.ZoneEvent
	order    []string
}

func NewZoneRefresher(cfg *config.Manager, store ZoneLoader, dst ZoneIndex, logger *slog.Logger) *ZoneRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZoneRefresher{cfg: cfg, store: store, dst: dst, logger: logger, overlay: map[string]model.ZoneEvent{}}
}

// Refresh loads all configured sources once and replays administrative
// changes on top. Nothing is replaced when no source is configured or any
// source fails.
func (r *ZoneRefresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.cfg.Get().Zones
	var sources int
	merged := map[string]model.RiskZone{}
	var order []string
	add := func(zones []model.RiskZone) {
		for _, z := range zones {
			if _, ok := merged[z.ID]; !ok {
				order = append(order, z.ID)
			}
			merged[z.ID] = z
		}
	}

	fromTable := current.StorageSource && r.store != nil
	switch {
	case r.pinned && !fromTable:
		add(r.replaced)
		sources++
	case current.File != "" && !r.pinned:
		zones, err := geofence.LoadZonesFile(current.File)
		if err != nil {
			return err
		}
		add(zones)
		sources++
	}
	if fromTable {
		zones, err := r.store.LoadZones(ctx)
		if err != nil {
			return err
		}
		add(zones)
		sources++
	}
	if sources == 0 {
		return nil
	}

	for _, id := range r.order {
		ev := r.overlay[id]
		switch ev.Op {
		case model.ZoneUpsert:
			if _, ok := merged[id]; !ok {
				order = append(order, id)
			}
			merged[id] = ev.Zone
		case model.ZoneDeactivate:
			if z, ok := merged[id]; ok {
				z.Active = false
				merged[id] = z
			}
		case model.ZoneDelete:
			delete(merged, id)
		}
	}

	out := make([]model.RiskZone, 0, len(order))
	for _, id := range order {
		if z, ok := merged[id]; ok {
			out = append(out, z)
		}
	}
	if err := r.dst.Replace(out); err != nil {
		return err
	}
	metrics.ZonesLoaded.Set(float64(r.dst.Len()))
	return nil
}

// Apply folds feed events into the live index and remembers them for the
// next refresh. Rejected batches are not remembered.
func (r *ZoneRefresher) Apply(events ...model.ZoneEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dst.Apply(events...); err != nil {
		return err
	}
	for _, ev := range events {
		id := ev.Zone.ID
		prev, seen := r.overlay[id]
		if !seen {
			r.order = append(r.order, id)
		}
		if ev.Op == model.ZoneDeactivate && seen && prev.Op == model.ZoneUpsert {
			prev.Zone.Active = false
			ev = prev
		}
		r.overlay[id] = ev
	}
	return nil
}

// Replace publishes a full zone set from the admin API. It supersedes the
// zones file and every earlier feed event.
func (r *ZoneRefresher) Replace(zones []model.RiskZone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dst.Replace(zones); err != nil {
		return err
	}
	r.replaced = append([]model.RiskZone(nil), zones...)
	r.pinned = true
	r.overlay = map[string]model.ZoneEvent{}
	r.order = nil
	return nil
}

func (r *ZoneRefresher) Len() int {
	return r.dst.Len()
}

// Run refreshes every refresh_interval until ctx ends. The first refresh
// is the caller's job so startup can fail fast on a bad zones file.
func (r *ZoneRefresher) Run(ctx context.Context) {
	interval := r.cfg.Get().Zones.RefreshInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("zone refresh failed, keeping current index", "error", err)
			}
		}
	}
}
