// Package trust keeps per-device reputation used to weight status reports.
package trust

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/kiosk-status/internal/model"
)

// Config holds the trust scoring parameters.
type Config struct {
	Min     float64 `yaml:"min" mapstructure:"min"`
	Max     float64 `yaml:"max" mapstructure:"max"`
	Default float64 `yaml:"default" mapstructure:"default"`

	// MinReports is the number of verified outcomes before the score moves
	// off Default.
	MinReports int `yaml:"min_reports" mapstructure:"min_reports"`

	// AccuracyWeight blends observed accuracy against Default:
	// score = accuracy*w + Default*(1-w).
	AccuracyWeight float64 `yaml:"accuracy_weight" mapstructure:"accuracy_weight"`
}

// DefaultConfig returns the production trust parameters.
func DefaultConfig() Config {
	return Config{
		Min:            0.3,
		Max:            1.0,
		Default:        0.5,
		MinReports:     3,
		AccuracyWeight: 0.7,
	}
}

func applyDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Max <= 0 {
		cfg.Max = d.Max
	}
	if cfg.Min <= 0 || cfg.Min > cfg.Max {
		cfg.Min = d.Min
	}
	if cfg.Default < cfg.Min || cfg.Default > cfg.Max {
		cfg.Default = clamp(d.Default, cfg.Min, cfg.Max)
	}
	if cfg.MinReports <= 0 {
		cfg.MinReports = d.MinReports
	}
	if cfg.AccuracyWeight <= 0 || cfg.AccuracyWeight > 1 {
		cfg.AccuracyWeight = d.AccuracyWeight
	}
	return cfg
}

// Ledger is the reputation store consulted on submission and revised on
// verification.
type Ledger interface {
	// ScoreFor returns the device's trust score, or the default if unseen.
	ScoreFor(deviceHash string) float64

	// Register creates an entry for a device on its first submission. An
	// existing entry is left untouched.
	Register(deviceHash string, now time.Time)

	// RecordOutcome folds one verified outcome into the device's score.
	RecordOutcome(deviceHash string, wasAccurate bool, now time.Time) model.DeviceTrust

	// Devices returns a copy of every entry, most active first.
	Devices() []model.DeviceTrust

	// Len returns the number of known devices.
	Len() int
}

// MemoryLedger is a Ledger backed by a locked map.
type MemoryLedger struct {
	mu      sync.RWMutex
	devices map[string]model.DeviceTrust
	cfg     Config
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger. Zero-valued fields in cfg fall
// back to DefaultConfig.
func NewMemoryLedger(cfg Config) *MemoryLedger {
	return &MemoryLedger{
		devices: make(map[string]model.DeviceTrust),
		cfg:     applyDefaults(cfg),
	}
}

// Config returns the effective scoring parameters.
func (l *MemoryLedger) Config() Config {
	return l.cfg
}

// ScoreFor implements Ledger.
func (l *MemoryLedger) ScoreFor(deviceHash string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d, ok := l.devices[deviceHash]; ok {
		return d.TrustScore
	}
	return l.cfg.Default
}

// Register implements Ledger.
func (l *MemoryLedger) Register(deviceHash string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.devices[deviceHash]; ok {
		return
	}
	l.devices[deviceHash] = model.DeviceTrust{
		DeviceHash:   deviceHash,
		TrustScore:   l.cfg.Default,
		LastReportAt: now,
	}
}

// RecordOutcome implements Ledger. The score stays at Default until the
// device has MinReports outcomes.
func (l *MemoryLedger) RecordOutcome(deviceHash string, wasAccurate bool, now time.Time) model.DeviceTrust {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.devices[deviceHash]
	if !ok {
		d = model.DeviceTrust{DeviceHash: deviceHash, TrustScore: l.cfg.Default}
	}

	d.TotalReports++
	if wasAccurate {
		d.AccurateReports++
	}
	d.LastReportAt = now

	if d.TotalReports >= l.cfg.MinReports {
		d.TrustScore = Score(l.cfg, d.AccurateReports, d.TotalReports)
	}

	l.devices[deviceHash] = d
	return d
}

// Devices implements Ledger. Ties on report count are ordered by device
// hash so output is stable.
func (l *MemoryLedger) Devices() []model.DeviceTrust {
	l.mu.RLock()
	out := make([]model.DeviceTrust, 0, len(l.devices))
	for _, d := range l.devices {
		out = append(out, d)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalReports != out[j].TotalReports {
			return out[i].TotalReports > out[j].TotalReports
		}
		return out[i].DeviceHash < out[j].DeviceHash
	})
	return out
}

// Len implements Ledger.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.devices)
}

// Score computes the blended trust score for a verified history.
func Score(cfg Config, accurate, total int) float64 {
	if total <= 0 {
		return cfg.Default
	}
	accuracy := float64(accurate) / float64(total)
	raw := accuracy*cfg.AccuracyWeight + cfg.Default*(1-cfg.AccuracyWeight)
	return clamp(raw, cfg.Min, cfg.Max)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
