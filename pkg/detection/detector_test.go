package detection

import (
	"math"
	"testing"
)

func TestDetection_Center(t *testing.T) {
	tests := []struct {
		name    string
		det     Detection
		expectX float64
		expectY float64
	}{
		{"center of image", Detection{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}, 0.5, 0.5},
		{"top left corner", Detection{X: 0, Y: 0, W: 0.2, H: 0.2}, 0.1, 0.1},
		{"bottom right corner", Detection{X: 0.8, Y: 0.8, W: 0.2, H: 0.2}, 0.9, 0.9},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, y := tc.det.Center()
			if math.Abs(x-tc.expectX) > 1e-9 {
				t.Errorf("Center X: got %.2f, want %.2f", x, tc.expectX)
			}
			if math.Abs(y-tc.expectY) > 1e-9 {
				t.Errorf("Center Y: got %.2f, want %.2f", y, tc.expectY)
			}
		})
	}
}

func TestLandmarks_Mouth(t *testing.T) {
	l := Landmarks{
		RightMouth: Point{X: 0.4, Y: 0.7},
		LeftMouth:  Point{X: 0.6, Y: 0.8},
	}
	m := l.Mouth()
	if math.Abs(m.X-0.5) > 1e-9 || math.Abs(m.Y-0.75) > 1e-9 {
		t.Errorf("Mouth = %+v, want {0.5 0.75}", m)
	}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name    string
		dets    []Detection
		wantIdx int
	}{
		{"empty", nil, -1},
		{"single", []Detection{{W: 0.1, H: 0.1, Confidence: 0.6}}, 0},
		{
			"higher confidence wins at equal size",
			[]Detection{
				{W: 0.2, H: 0.2, Confidence: 0.6},
				{W: 0.2, H: 0.2, Confidence: 0.9},
			},
			1,
		},
		{
			"much larger face wins at similar confidence",
			[]Detection{
				{W: 0.5, H: 0.5, Confidence: 0.80},
				{W: 0.1, H: 0.1, Confidence: 0.85},
			},
			0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			best := SelectBest(tc.dets)
			if tc.wantIdx < 0 {
				if best != nil {
					t.Errorf("Expected nil, got %+v", best)
				}
				return
			}
			if best != &tc.dets[tc.wantIdx] {
				t.Errorf("Expected detection %d, got %+v", tc.wantIdx, best)
			}
		})
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := MeanConfidence(nil); got != 0 {
		t.Errorf("MeanConfidence(nil) = %v, want 0", got)
	}
	got := MeanConfidence([]Detection{{Confidence: 0.5}, {Confidence: 0.9}})
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("MeanConfidence = %v, want 0.7", got)
	}
}
