// Package status derives a kiosk's current status from its reports.
package status

import (
	"math"
	"time"

	"github.com/sells-group/kiosk-status/internal/model"
)

// Result is the consensus status for one kiosk.
type Result struct {
	Status      model.Status `json:"status"`
	Confidence  float64      `json:"confidence"`
	ReportCount int          `json:"report_count"`
}

// Unknown is the result when no report carries weight.
var Unknown = Result{Status: model.StatusUnknown}

// Config controls how report weight decays with age.
type Config struct {
	// Horizon is the age past which a report carries no weight at all.
	Horizon time.Duration `yaml:"horizon" mapstructure:"horizon"`

	// DecayScale is the e-folding time of the decay curve:
	// weight = trust * exp(-age / DecayScale).
	DecayScale time.Duration `yaml:"decay_scale" mapstructure:"decay_scale"`
}

// DefaultConfig returns a 24h horizon with a 12h decay scale.
func DefaultConfig() Config {
	return Config{
		Horizon:    24 * time.Hour,
		DecayScale: 12 * time.Hour,
	}
}

// Aggregate computes the consensus with DefaultConfig.
func Aggregate(reports []model.Report, now time.Time) Result {
	return DefaultConfig().Aggregate(reports, now)
}

// Aggregate computes the trust-weighted, time-decayed consensus of reports
// as of now. It is pure: the same inputs always give the same Result. Ties
// go to the earliest status in model.ReportableStatuses.
func (c Config) Aggregate(reports []model.Report, now time.Time) Result {
	if len(reports) == 0 {
		return Unknown
	}
	c = c.withDefaults()

	weights := make(map[model.Status]float64, len(model.ReportableStatuses))
	var total float64
	var count int

	for _, r := range reports {
		w, ok := c.Weight(r, now)
		if !ok {
			continue
		}
		weights[r.Status] += w
		total += w
		count++
	}

	if total == 0 {
		return Unknown
	}

	best := model.StatusUnknown
	var bestWeight float64
	for _, s := range model.ReportableStatuses {
		if weights[s] > bestWeight {
			best = s
			bestWeight = weights[s]
		}
	}

	return Result{
		Status:      best,
		Confidence:  math.Min(1, bestWeight/total),
		ReportCount: count,
	}
}

// Weight returns a report's contribution as of now, and false when the
// report is past the horizon or does not carry a votable status.
// Future-dated reports count as brand new.
func (c Config) Weight(r model.Report, now time.Time) (float64, bool) {
	if !r.Status.Valid() {
		return 0, false
	}
	c = c.withDefaults()

	age := now.Sub(r.SubmittedAt)
	if age < 0 {
		age = 0
	}
	if age > c.Horizon {
		return 0, false
	}

	decay := math.Exp(-age.Hours() / c.DecayScale.Hours())
	return decay * r.TrustAtSubmission, true
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Horizon <= 0 {
		c.Horizon = d.Horizon
	}
	if c.DecayScale <= 0 {
		c.DecayScale = d.DecayScale
	}
	return c
}
