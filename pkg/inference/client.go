package inference

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/roopcam/internal/observe"
	"github.com/teslashibe/roopcam/pkg/frame"
)

// Client wraps a Provider and admits at most one in-flight call per Kind.
// A call of a kind that is already outstanding fails with ErrBusy without
// reaching the provider.
type Client struct {
	provider Provider
	logger   *slog.Logger
	metrics  *observe.Metrics

	gates map[Kind]*gate
}

type gate struct {
	busy     atomic.Bool
	calls    atomic.Int64
	rejected atomic.Int64
	failures atomic.Int64
}

// CallStats counts calls of one kind.
type CallStats struct {
	Calls    int64 `json:"calls"`
	Rejected int64 `json:"rejected"`
	Failures int64 `json:"failures"`
	InFlight bool  `json:"in_flight"`
}

// NewClient creates a gated client over p. Only the Logger and Metrics
// options apply.
func NewClient(p Provider, opts ...Option) *Client {
	cfg := &Config{}
	cfg.Apply(opts...)

	gates := make(map[Kind]*gate, len(Kinds))
	for _, k := range Kinds {
		gates[k] = &gate{}
	}
	return &Client{
		provider: p,
		logger:   cfg.Logger.With("component", "inference.client"),
		metrics:  cfg.Metrics,
		gates:    gates,
	}
}

// acquire claims the gate for kind or reports busy.
func (c *Client) acquire(ctx context.Context, kind Kind) (*gate, error) {
	g := c.gates[kind]
	if !g.busy.CompareAndSwap(false, true) {
		g.rejected.Add(1)
		c.metrics.RecordInference(ctx, string(kind), "busy", 0)
		return nil, ErrBusy
	}
	g.calls.Add(1)
	return g, nil
}

func (c *Client) finish(ctx context.Context, g *gate, kind Kind, start time.Time, err error) {
	g.busy.Store(false)
	status := "ok"
	if err != nil {
		g.failures.Add(1)
		status = "error"
		if errors.Is(err, ErrInvalidFrame) {
			status = "invalid"
		}
		c.logger.Debug("inference call failed", "kind", kind, "error", err)
	}
	c.metrics.RecordInference(ctx, string(kind), status, time.Since(start))
}

// Detect runs face detection on f.
func (c *Client) Detect(ctx context.Context, f frame.Sample) (*Detection, error) {
	if f.Empty() {
		return nil, ErrInvalidFrame
	}
	g, err := c.acquire(ctx, KindDetect)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	det, err := c.provider.Detect(ctx, f)
	c.finish(ctx, g, KindDetect, start, err)
	return det, err
}

// ExtractEmbedding computes the embedding of f.
func (c *Client) ExtractEmbedding(ctx context.Context, f frame.Sample) (*Embedding, error) {
	if f.Empty() {
		return nil, ErrInvalidFrame
	}
	g, err := c.acquire(ctx, KindEmbed)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	emb, err := c.provider.ExtractEmbedding(ctx, f)
	c.finish(ctx, g, KindEmbed, start, err)
	return emb, err
}

// Swap renders emb onto target.
func (c *Client) Swap(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error) {
	if target.Empty() {
		return nil, ErrInvalidFrame
	}
	if emb.Empty() {
		return nil, ErrNoEmbedding
	}
	g, err := c.acquire(ctx, KindSwap)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.provider.Swap(ctx, target, emb, opts)
	c.finish(ctx, g, KindSwap, start, err)
	return res, err
}

// AdvancedSwap runs an offline swap.
func (c *Client) AdvancedSwap(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
	g, err := c.acquire(ctx, KindAdvancedSwap)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.provider.AdvancedSwap(ctx, req)
	c.finish(ctx, g, KindAdvancedSwap, start, err)
	return res, err
}

// ConvertVoice runs an offline voice conversion.
func (c *Client) ConvertVoice(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
	g, err := c.acquire(ctx, KindVoice)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.provider.ConvertVoice(ctx, req)
	c.finish(ctx, g, KindVoice, start, err)
	return res, err
}

// InFlight reports whether a call of kind is outstanding.
func (c *Client) InFlight(kind Kind) bool {
	g, ok := c.gates[kind]
	return ok && g.busy.Load()
}

// Stats returns per-kind call counters.
func (c *Client) Stats() map[Kind]CallStats {
	out := make(map[Kind]CallStats, len(c.gates))
	for k, g := range c.gates {
		out[k] = CallStats{
			Calls:    g.calls.Load(),
			Rejected: g.rejected.Load(),
			Failures: g.failures.Load(),
			InFlight: g.busy.Load(),
		}
	}
	return out
}

// Capabilities returns the wrapped provider's capabilities.
func (c *Client) Capabilities() Capabilities {
	return c.provider.Capabilities()
}

// Health checks the wrapped provider.
func (c *Client) Health(ctx context.Context) error {
	return c.provider.Health(ctx)
}

// Close closes the wrapped provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
