package inference

import (
	"math"
	"testing"
	"time"
)

func TestQualityBudgetOrdering(t *testing.T) {
	order := []Quality{QualityFast, QualityBalanced, QualityUltra, QualityMaximum}
	for i := 1; i < len(order); i++ {
		if order[i].Budget() <= order[i-1].Budget() {
			t.Errorf("%s budget %v not above %s budget %v",
				order[i], order[i].Budget(), order[i-1], order[i-1].Budget())
		}
	}
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		q       Quality
		latency time.Duration
		want    float64
	}{
		{QualityFast, 100 * time.Millisecond, 0.75},
		{QualityFast, 50 * time.Millisecond, 0.80},
		{QualityBalanced, 200 * time.Millisecond, 0.85},
		{QualityMaximum, 10 * time.Millisecond, 0.99},
		{"bogus", 100 * time.Millisecond, 0.85},
	}

	for _, tc := range tests {
		got := QualityScore(tc.q, tc.latency)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("QualityScore(%s, %v) = %v, want %v", tc.q, tc.latency, got, tc.want)
		}
	}
}

func TestParseQuality(t *testing.T) {
	if q, err := ParseQuality("ultra"); err != nil || q != QualityUltra {
		t.Errorf("ParseQuality(ultra) = %v, %v", q, err)
	}
	if _, err := ParseQuality("8k"); err == nil {
		t.Error("Expected error for unknown quality")
	}
}
