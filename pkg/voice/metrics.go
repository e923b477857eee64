package voice

import (
	"fmt"
	"sync"
	"time"
)

// Metrics tracks analysis activity for the current processor run.
type Metrics struct {
	ChunksIn    int64 `json:"chunks_in"`
	ActiveIn    int64 `json:"active_in"`
	Transformed int64 `json:"transformed"`

	// LastAnalysis is how long the most recent Analyze call took.
	LastAnalysis time.Duration `json:"last_analysis_ns"`

	// Latest is the most recent output Stats.
	Latest Stats `json:"latest"`
}

// MetricsCollector collects processor metrics. It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Stats // recent active outputs for averaging

	onUpdate func(Metrics)
}

const historySize = 100

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Stats, 0, historySize),
	}
}

// OnUpdate sets a callback that fires after every recorded chunk.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Record adds one processed chunk.
func (m *MetricsCollector) Record(r Result, took time.Duration) {
	m.mu.Lock()
	m.current.ChunksIn++
	if r.Input.Active {
		m.current.ActiveIn++
		m.history = append(m.history, r.Output)
		if len(m.history) > historySize {
			m.history = m.history[1:]
		}
	}
	if r.Transformed {
		m.current.Transformed++
	}
	m.current.LastAnalysis = took
	m.current.Latest = r.Output
	snapshot := m.current
	fn := m.onUpdate
	m.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Average returns the mean output over recent active chunks.
func (m *MetricsCollector) Average() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Stats{}
	}

	var avg Stats
	for _, h := range m.history {
		avg.Volume += h.Volume
		avg.DominantFrequencyHz += h.DominantFrequencyHz
	}
	n := float64(len(m.history))
	avg.Volume /= n
	avg.DominantFrequencyHz /= n
	avg.Active = avg.Volume > ActivityFloor
	return avg
}

// Reset clears counters and history.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{}
	m.history = m.history[:0]
}

// Format returns a one-line summary for logs.
func (m Metrics) Format() string {
	return fmt.Sprintf("%d in | %d active | %d transformed | vol %.3f | %.0fHz",
		m.ChunksIn, m.ActiveIn, m.Transformed, m.Latest.Volume, m.Latest.DominantFrequencyHz)
}
