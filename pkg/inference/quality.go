package inference

import (
	"fmt"
	"time"
)

// Quality trades swap latency for fidelity.
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityBalanced Quality = "balanced"
	QualityUltra    Quality = "ultra"
	QualityMaximum  Quality = "maximum"
)

type qualityProfile struct {
	budget time.Duration
	base   float64
}

var qualityProfiles = map[Quality]qualityProfile{
	QualityFast:     {budget: 15 * time.Millisecond, base: 0.75},
	QualityBalanced: {budget: 25 * time.Millisecond, base: 0.85},
	QualityUltra:    {budget: 35 * time.Millisecond, base: 0.95},
	QualityMaximum:  {budget: 50 * time.Millisecond, base: 0.98},
}

// ParseQuality validates a quality name.
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if !q.Valid() {
		return "", fmt.Errorf("inference: unknown quality %q", s)
	}
	return q, nil
}

// Valid reports whether q is a known quality.
func (q Quality) Valid() bool {
	_, ok := qualityProfiles[q]
	return ok
}

// Budget is the expected swap latency at this quality.
func (q Quality) Budget() time.Duration {
	if p, ok := qualityProfiles[q]; ok {
		return p.budget
	}
	return qualityProfiles[QualityBalanced].budget
}

// QualityScore estimates output quality when the service reports none:
// the quality's base score plus a bonus for latency under 100ms, capped
// at 0.99.
func QualityScore(q Quality, latency time.Duration) float64 {
	p, ok := qualityProfiles[q]
	if !ok {
		p = qualityProfiles[QualityBalanced]
	}
	ms := float64(latency) / float64(time.Millisecond)
	score := p.base + max(0, (100-ms)/1000)
	return min(score, 0.99)
}
