package audio

import (
	"sync"

	"resonance-engine/pkg/dsp"
)

const (
	// levelSmoothing is the exponential smoothing factor for the RMS level
	levelSmoothing = 0.3

	// peakDecay is the per-tick decay applied to the held peak
	peakDecay = 0.95
)

// Level is a UI-friendly smoothed snapshot of the capture level.
type Level struct {
	// Current is the exponentially smoothed RMS level
	Current float64 `json:"current"`

	// Peak is the decayed peak level (instant rise, 5% decay per tick)
	Peak float64 `json:"peak"`

	// Decibels is the smoothed level in dBFS
	Decibels float64 `json:"decibels"`

	// Normalized maps the decibel level onto [0,1] for meters
	Normalized float64 `json:"normalized"`
}

// LevelMonitor smooths instantaneous buffer levels into a displayable signal.
// Updates arrive once per capture tick; consumers read the event channel.
type LevelMonitor struct {
	mu      sync.Mutex
	current float64
	peak    float64
	events  chan Level
}

// NewLevelMonitor creates a level monitor with a small event buffer. Slow
// consumers lose intermediate levels rather than stalling the capture path.
func NewLevelMonitor() *LevelMonitor {
	return &LevelMonitor{
		events: make(chan Level, 16),
	}
}

// Update folds one buffer's measurements into the smoothed state and emits
// the resulting level.
func (m *LevelMonitor) Update(rms, peak float64) Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = levelSmoothing*rms + (1-levelSmoothing)*m.current

	decayed := m.peak * peakDecay
	if peak > decayed {
		m.peak = peak
	} else {
		m.peak = decayed
	}

	level := Level{
		Current:    m.current,
		Peak:       m.peak,
		Decibels:   dsp.Decibels(m.current),
		Normalized: normalizeDecibels(dsp.Decibels(m.current)),
	}

	select {
	case m.events <- level:
	default:
		// Drop the level if nobody is reading; the next tick supersedes it
	}

	return level
}

// Snapshot returns the current smoothed level without emitting an event
func (m *LevelMonitor) Snapshot() Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	db := dsp.Decibels(m.current)
	return Level{
		Current:    m.current,
		Peak:       m.peak,
		Decibels:   db,
		Normalized: normalizeDecibels(db),
	}
}

// Events returns the live level stream
func (m *LevelMonitor) Events() <-chan Level {
	return m.events
}

// Reset zeroes the smoothed state
func (m *LevelMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = 0
	m.peak = 0
}

// Current returns the smoothed RMS level
func (m *LevelMonitor) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// PeakLevel returns the decayed peak level
func (m *LevelMonitor) PeakLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// normalizeDecibels maps [-60, 0] dBFS onto [0, 1]
func normalizeDecibels(db float64) float64 {
	n := (db + 60) / 60
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
