// Package stats merges session connectivity and pipeline quality into one
// read-only snapshot.
//
// Session counters are sampled on a fixed interval; pipeline figures arrive
// once per completed pass. Each sample replaces the previous one. Only
// counters that are monotonic by nature (bytes, frames) grow.
package stats

import (
	"time"

	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/scheduler"
	"github.com/teslashibe/roopcam/pkg/session"
	"github.com/teslashibe/roopcam/pkg/voice"
)

// PassSample describes one completed pipeline pass.
type PassSample struct {
	Seq     uint64
	Variant string

	// Pass is capture-to-publish latency.
	Pass time.Duration

	// Swap is the swap call latency, zero when no swap ran.
	Swap    time.Duration
	Quality float64

	Faces            int
	DetectConfidence float64
	DetectLatency    time.Duration

	At time.Time
}

// Pipeline is the latest pass plus running frame counters.
type Pipeline struct {
	Seq     uint64  `json:"seq"`
	Variant string  `json:"variant"`
	FPS     float64 `json:"fps"`

	LatencyMs     float64 `json:"latency_ms"`
	SwapLatencyMs float64 `json:"swap_latency_ms"`
	Quality       float64 `json:"quality"`

	FacesDetected    int     `json:"faces_detected"`
	DetectConfidence float64 `json:"detect_confidence"`
	DetectLatencyMs  float64 `json:"detect_latency_ms"`

	FramesPublished int64 `json:"frames_published"`
	FramesSwapped   int64 `json:"frames_swapped"`
	FramesFallback  int64 `json:"frames_fallback"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the merged view returned to callers. It is a value; callers
// may keep it without affecting the aggregator.
type Snapshot struct {
	Session    session.Info            `json:"session"`
	Connection session.ConnectionStats `json:"connection"`
	Pipeline   Pipeline                `json:"pipeline"`

	// Audio is the latest voice analysis, nil when voice mode never ran.
	Audio *voice.Result `json:"audio,omitempty"`

	Scheduler scheduler.Stats                        `json:"scheduler"`
	Inference map[inference.Kind]inference.CallStats `json:"inference,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SessionState is shorthand for Snapshot.Session.State.
func (s Snapshot) SessionState() session.State {
	return s.Session.State
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
