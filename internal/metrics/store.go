package metrics

import (
	"slices"
	"sync"
	"time"

	"safeguard/internal/model"
)

// Store keeps the latest rolling-window summaries per device. When more
// than limit devices are tracked the least recently updated one is evicted.
type Store struct {
	mu        sync.RWMutex
	byDevice  map[string]map[int]model.DeviceWindow
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byDevice:  make(map[string]map[int]model.DeviceWindow),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(deviceID string, windows []model.DeviceWindow) {
	if deviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byDevice[deviceID]
	if !ok {
		m = make(map[int]model.DeviceWindow)
		s.byDevice[deviceID] = m
	}
	for _, w := range windows {
		m[w.WindowSec] = w
	}
	s.updatedAt[deviceID] = time.Now().UTC()
	if len(s.byDevice) > s.limit {
		s.evictOldest()
	}
	TrackedDevices.Set(float64(len(s.byDevice)))
}

// Get returns the windows of one device, shortest first.
func (s *Store) Get(deviceID string) ([]model.DeviceWindow, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byDevice[deviceID]
	if !ok {
		return nil, time.Time{}, false
	}
	return sorted(m), s.updatedAt[deviceID], true
}

func (s *Store) GetAll() map[string][]model.DeviceWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.DeviceWindow, len(s.byDevice))
	for id, m := range s.byDevice {
		out[id] = sorted(m)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDevice)
}

func sorted(m map[int]model.DeviceWindow) []model.DeviceWindow {
	out := make([]model.DeviceWindow, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b model.DeviceWindow) int { return a.WindowSec - b.WindowSec })
	return out
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byDevice, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice = make(map[string]map[int]model.DeviceWindow)
	s.updatedAt = make(map[string]time.Time)
	TrackedDevices.Set(0)
}
