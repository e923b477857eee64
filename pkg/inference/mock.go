package inference

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/roopcam/pkg/frame"
)

// MockEmbeddingSize is the vector length produced by the default mock.
const MockEmbeddingSize = 512

// Mock implements Provider with canned, deterministic responses.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	DetectFunc func(ctx context.Context, f frame.Sample) (*Detection, error)

	// EmbedFunc is called when ExtractEmbedding is invoked.
	EmbedFunc func(ctx context.Context, f frame.Sample) (*Embedding, error)

	// SwapFunc is called when Swap is invoked.
	SwapFunc func(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error)

	// AdvancedSwapFunc is called when AdvancedSwap is invoked.
	AdvancedSwapFunc func(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error)

	// VoiceFunc is called when ConvertVoice is invoked.
	VoiceFunc func(ctx context.Context, req *VoiceRequest) (*VoiceResult, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	// CapabilitiesOverride overrides default capabilities.
	CapabilitiesOverride *Capabilities

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time

	// Embedding is the embedding passed to Swap.
	Embedding *Embedding
}

// MockFace is the face returned by the default DetectFunc.
var MockFace = FaceBox{
	X: 0.35, Y: 0.25, W: 0.3, H: 0.4,
	Confidence: 0.92,
	Landmarks: Landmarks{
		LeftEye:  Point{X: 0.58, Y: 0.38},
		RightEye: Point{X: 0.42, Y: 0.38},
		Nose:     Point{X: 0.5, Y: 0.47},
		Mouth:    Point{X: 0.5, Y: 0.56},
	},
}

// MockVector derives a deterministic embedding vector from image bytes.
func MockVector(data []byte) []float64 {
	v := make([]float64, MockEmbeddingSize)
	if len(data) == 0 {
		return v
	}
	for i := range v {
		v[i] = float64(int(data[i%len(data)])-128) / 128
	}
	return v
}

// NewMock creates a mock provider: one face per frame, embeddings derived
// from the image bytes, and swaps that echo the target at the quality's
// latency budget.
func NewMock() *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, f frame.Sample) (*Detection, error) {
			return &Detection{
				Faces:   []FaceBox{MockFace},
				Model:   "mock",
				Latency: 5 * time.Millisecond,
			}, nil
		},
		EmbedFunc: func(ctx context.Context, f frame.Sample) (*Embedding, error) {
			return &Embedding{
				Vector:     MockVector(f.Data),
				Source:     IdentityOf(f.Data),
				Confidence: 0.95,
			}, nil
		},
		SwapFunc: func(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error) {
			latency := opts.Quality.Budget()
			return &SwapResult{
				Frame:   target.Clone(),
				Quality: QualityScore(opts.Quality, latency),
				Latency: latency,
			}, nil
		},
		AdvancedSwapFunc: func(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
			return &AdvancedSwapResult{
				Data:        append([]byte(nil), req.Target...),
				ContentType: "image/png",
				Latency:     req.Options.Quality.Budget() * 4,
			}, nil
		},
		VoiceFunc: func(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
			return &VoiceResult{
				Audio:   append([]byte(nil), req.Audio...),
				Latency: 20 * time.Millisecond,
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, f frame.Sample) (*Detection, error) {
	m.record("Detect", nil)
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, f)
	}
	return nil, WrapError("mock", KindDetect, ErrNotSupported)
}

// ExtractEmbedding calls EmbedFunc and records the call.
func (m *Mock) ExtractEmbedding(ctx context.Context, f frame.Sample) (*Embedding, error) {
	m.record("ExtractEmbedding", nil)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, f)
	}
	return nil, WrapError("mock", KindEmbed, ErrNotSupported)
}

// Swap calls SwapFunc and records the call with its embedding.
func (m *Mock) Swap(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error) {
	m.record("Swap", emb)
	if m.SwapFunc != nil {
		return m.SwapFunc(ctx, target, emb, opts)
	}
	return nil, WrapError("mock", KindSwap, ErrNotSupported)
}

// AdvancedSwap calls AdvancedSwapFunc and records the call.
func (m *Mock) AdvancedSwap(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
	m.record("AdvancedSwap", nil)
	if m.AdvancedSwapFunc != nil {
		return m.AdvancedSwapFunc(ctx, req)
	}
	return nil, WrapError("mock", KindAdvancedSwap, ErrNotSupported)
}

// ConvertVoice calls VoiceFunc and records the call.
func (m *Mock) ConvertVoice(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
	m.record("ConvertVoice", nil)
	if m.VoiceFunc != nil {
		return m.VoiceFunc(ctx, req)
	}
	return nil, WrapError("mock", KindVoice, ErrNotSupported)
}

// Capabilities returns mock capabilities.
func (m *Mock) Capabilities() Capabilities {
	if m.CapabilitiesOverride != nil {
		return *m.CapabilitiesOverride
	}
	return Capabilities{
		Detect:       m.DetectFunc != nil,
		Embed:        m.EmbedFunc != nil,
		Swap:         m.SwapFunc != nil,
		AdvancedSwap: m.AdvancedSwapFunc != nil,
		Voice:        m.VoiceFunc != nil,
	}
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close", nil)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// record adds a call to the tracking list.
func (m *Mock) record(method string, emb *Embedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Time:      time.Now(),
		Embedding: emb,
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call of method, or nil if none.
func (m *Mock) LastCall(method string) *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Method == method {
			call := m.calls[i]
			return &call
		}
	}
	return nil
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose every call fails with err.
func WithError(err error) *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, f frame.Sample) (*Detection, error) {
			return nil, err
		},
		EmbedFunc: func(ctx context.Context, f frame.Sample) (*Embedding, error) {
			return nil, err
		},
		SwapFunc: func(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error) {
			return nil, err
		},
		AdvancedSwapFunc: func(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
			return nil, err
		},
		VoiceFunc: func(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
