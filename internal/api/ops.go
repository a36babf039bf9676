package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"safeguard/internal/model"
	"safeguard/internal/registry"
)

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	Uptime     string        `json:"uptime"`
	ConfigPath string        `json:"config_path"`
	Models     modelsStatus  `json:"models"`
	Ingest     ingestStatus  `json:"ingest"`
	Outputs    outputsStatus `json:"outputs"`
	Zones      zonesStatus   `json:"zones"`
	Detection  detectStatus  `json:"detection"`
	Devices    int           `json:"devices"`
	Alerts     int           `json:"alerts"`
}

type modelsStatus struct {
	Loaded  bool              `json:"loaded"`
	Anomaly *registry.Version `json:"anomaly,omitempty"`
	Risk    *registry.Version `json:"risk,omitempty"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	Workers   int  `json:"workers"`
}

type outputsStatus struct {
	Storage       bool   `json:"storage"`
	StorageDriver string `json:"storage_driver,omitempty"`
	Kafka         bool   `json:"kafka"`
}

type zonesStatus struct {
	Loaded        int  `json:"loaded"`
	File          bool `json:"file"`
	StorageSource bool `json:"storage_source"`
	Feed          bool `json:"feed"`
}

type detectStatus struct {
	Windows       []string `json:"windows"`
	AlertCooldown string   `json:"alert_cooldown"`
	DedupeWindow  string   `json:"dedupe_window"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	windows := make([]string, 0, len(cfg.Detection.Windows))
	for _, d := range cfg.Detection.Windows {
		windows = append(windows, d.String())
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		Uptime:     time.Since(s.engine.Started()).Round(time.Second).String(),
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			Workers:   cfg.Ingest.Workers,
		},
		Outputs: outputsStatus{
			Storage: cfg.Storage.Enabled,
			Kafka:   cfg.Output.Kafka.Enabled,
		},
		Zones: zonesStatus{
			Loaded:        s.zones.Len(),
			File:          cfg.Zones.File != "",
			StorageSource: cfg.Zones.StorageSource,
			Feed:          cfg.Zones.Feed.Enabled,
		},
		Detection: detectStatus{
			Windows:       windows,
			AlertCooldown: cfg.Detection.AlertCooldown.String(),
			DedupeWindow:  cfg.Detection.DedupeWindow.String(),
		},
		Devices: s.metrics.Len(),
		Alerts:  s.alerts.Len(),
	}
	if cfg.Storage.Enabled {
		resp.Outputs.StorageDriver = cfg.Storage.Driver
	}
	if m, err := s.registry.Current(); err == nil {
		resp.Models = modelsStatus{Loaded: true, Anomaly: &m.AnomalyVersion, Risk: &m.RiskVersion}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, model.InvalidField("limit", v, "not a non-negative integer"))
			return
		}
		limit = n
	}
	var list []model.AlertRecord
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			s.writeError(w, r, model.InvalidField("since", q.Get("since"), "not RFC 3339"))
			return
		}
		list = s.alerts.Since(ts)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	case q.Get("device_id") != "":
		list = s.alerts.ForDevice(q.Get("device_id"), limit)
	default:
		list = s.alerts.List(limit)
	}
	if list == nil {
		list = []model.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": all,
		"count":   len(all),
	})
}

const deviceAlertLimit = 50

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	windows, updated, ok := s.metrics.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown device: " + id})
		return
	}
	recent := s.alerts.ForDevice(id, deviceAlertLimit)
	if recent == nil {
		recent = []model.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  id,
		"updated_at": updated.Format(time.RFC3339Nano),
		"windows":    windows,
		"alerts":     recent,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.engine.Reset()
		s.metrics.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "devices", "metrics":
		s.metrics.Clear()
	default:
		s.writeError(w, r, model.InvalidField("target", req.Target, "expected all, alerts or devices"))
		return
	}
	s.logger.Info("state cleared", "target", target)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

// handleReloadModels reads both artifacts again. On failure the running
// models stay active.
func (s *Server) handleReloadModels(w http.ResponseWriter, r *http.Request) {
	mc := s.cfg.Get().Models
	if err := s.registry.Load(mc.AnomalyPath, mc.RiskPath, mc.AnomalyConfidenceScale); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, _ := s.registry.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"anomaly": m.AnomalyVersion,
		"risk":    m.RiskVersion,
	})
}
