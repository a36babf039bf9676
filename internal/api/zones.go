package api

import (
	"net/http"
	"strconv"

	"safeguard/internal/engine"
	"safeguard/internal/geofence"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
)

const defaultNearbyRadiusKm = 5

func (s *Server) handleListZones(w http.ResponseWriter, _ *http.Request) {
	zones := s.zones.Zones()
	writeJSON(w, http.StatusOK, map[string]any{
		"zones": zones,
		"count": len(zones),
	})
}

// handleReplaceZones swaps the whole zone set. The body is the same
// document as a zones file. Storage is written before the live index so a
// failed write leaves both unchanged.
func (s *Server) handleReplaceZones(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	zones, err := geofence.ParseZones(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.store != nil {
		if err := s.store.ReplaceZones(r.Context(), zones); err != nil {
			s.logger.Error("zone persist failed", "zones", len(zones), "error", err)
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "zone storage unavailable"})
			return
		}
	}
	if err := s.admin.Replace(zones); err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.ZonesLoaded.Set(float64(s.zones.Len()))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": len(zones)})
}

func queryFloat(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, model.InvalidField(name, raw, "not a number")
	}
	return v, true, nil
}

func (s *Server) handleNearbyZones(w http.ResponseWriter, r *http.Request) {
	lat, okLat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, okLon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !okLat {
		s.writeError(w, r, model.MissingField("lat"))
		return
	}
	if !okLon {
		s.writeError(w, r, model.MissingField("lon"))
		return
	}
	radius, ok, err := queryFloat(r, "radius_km")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		radius = defaultNearbyRadiusKm
	}
	if radius < 0 {
		s.writeError(w, r, model.InvalidField("radius_km", radius, "must not be negative"))
		return
	}
	nearby := s.zones.NearbyZones(lat, lon, radius)
	writeJSON(w, http.StatusOK, map[string]any{
		"zones":     nearby,
		"count":     len(nearby),
		"radius_km": radius,
	})
}

type geofenceRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type geofenceResponse struct {
	Inside            bool             `json:"inside"`
	Zones             []model.RiskZone `json:"zones"`
	NearestDistanceKm float64          `json:"nearest_distance_km"`
	Alerts            []model.Alert    `json:"alerts"`
}

func (s *Server) handleGeofenceCheck(w http.ResponseWriter, r *http.Request) {
	var req geofenceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	violations := s.zones.Violations(*req.Latitude, *req.Longitude)
	if violations == nil {
		violations = []model.RiskZone{}
	}
	alerts := engine.Alerts(nil, nil, nil, model.AnomalyResult{}, violations)
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, geofenceResponse{
		Inside:            len(violations) > 0,
		Zones:             violations,
		NearestDistanceKm: s.zones.NearestDistanceKm(*req.Latitude, *req.Longitude),
		Alerts:            alerts,
	})
}
