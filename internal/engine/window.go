package engine

import (
	"math"
	"time"

	"safeguard/internal/model"
)

// ScoreEntry is one assessment as seen by the rolling windows.
type ScoreEntry struct {
	Timestamp time.Time
	Score     int
	Anomaly   bool
	Alerts    int
}

// WindowState keeps entries newer than duration behind a moving head.
// Entries must arrive in roughly non-decreasing timestamp order; eviction
// stops at the first entry inside the window.
type WindowState struct {
	duration  time.Duration
	entries   []ScoreEntry
	head      int
	count     int
	anomalies int
	alerts    int
	sum       float64
	sumSq     float64
}

func NewWindowState(duration time.Duration) *WindowState {
	return &WindowState{
		duration: duration,
		entries:  make([]ScoreEntry, 0, 64),
	}
}

func (w *WindowState) Add(e ScoreEntry) {
	w.entries = append(w.entries, e)
	w.count++
	if e.Anomaly {
		w.anomalies++
	}
	w.alerts += e.Alerts
	v := float64(e.Score)
	w.sum += v
	w.sumSq += v * v
}

func (w *WindowState) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		w.count--
		if e.Anomaly {
			w.anomalies--
		}
		w.alerts -= e.Alerts
		v := float64(e.Score)
		w.sum -= v
		w.sumSq -= v * v
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]ScoreEntry{}, w.entries[w.head:]...)
		w.head = 0
	}
	if w.count == 0 {
		w.sum, w.sumSq = 0, 0
	}
}

func (w *WindowState) Summary() model.DeviceWindow {
	out := model.DeviceWindow{
		WindowSec: int(w.duration.Seconds()),
		Samples:   w.count,
		Anomalies: w.anomalies,
		Alerts:    w.alerts,
	}
	if w.count == 0 {
		return out
	}
	n := float64(w.count)
	mean := w.sum / n
	out.MeanScore = mean
	out.ScoreStdDev = math.Sqrt(math.Max(0, w.sumSq/n-mean*mean))
	out.AnomalyRatio = float64(w.anomalies) / n
	out.MinScore = w.entries[w.head].Score
	for _, e := range w.entries[w.head+1:] {
		out.MinScore = min(out.MinScore, e.Score)
	}
	return out
}
