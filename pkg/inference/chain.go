package inference

import (
	"context"
	"log/slog"

	"github.com/teslashibe/roopcam/pkg/frame"
)

// Chain tries providers in order until one succeeds. Providers that do not
// support a call are skipped.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain.
// At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "inference.chain"),
	}, nil
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "inference.chain")
	return chain, nil
}

// try runs call on each capable provider in order.
func try[T any](ctx context.Context, c *Chain, kind Kind, call func(Provider) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)

	for i, p := range c.providers {
		if !p.Capabilities().Supports(kind) {
			continue
		}

		resp, err := call(p)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"kind", kind,
					"provider_index", i,
				)
			}
			return resp, nil
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next",
			"kind", kind,
			"provider_index", i,
			"error", err,
		)

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	if len(errs) == 0 {
		return zero, ErrNotSupported
	}
	return zero, &ChainError{Errors: errs}
}

// Detect tries each provider that supports detection.
func (c *Chain) Detect(ctx context.Context, f frame.Sample) (*Detection, error) {
	return try(ctx, c, KindDetect, func(p Provider) (*Detection, error) {
		return p.Detect(ctx, f)
	})
}

// ExtractEmbedding tries each provider that supports embeddings.
func (c *Chain) ExtractEmbedding(ctx context.Context, f frame.Sample) (*Embedding, error) {
	return try(ctx, c, KindEmbed, func(p Provider) (*Embedding, error) {
		return p.ExtractEmbedding(ctx, f)
	})
}

// Swap tries each provider that supports swapping.
func (c *Chain) Swap(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error) {
	return try(ctx, c, KindSwap, func(p Provider) (*SwapResult, error) {
		return p.Swap(ctx, target, emb, opts)
	})
}

// AdvancedSwap tries each provider that supports offline swaps.
func (c *Chain) AdvancedSwap(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
	return try(ctx, c, KindAdvancedSwap, func(p Provider) (*AdvancedSwapResult, error) {
		return p.AdvancedSwap(ctx, req)
	})
}

// ConvertVoice tries each provider that supports voice conversion.
func (c *Chain) ConvertVoice(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
	return try(ctx, c, KindVoice, func(p Provider) (*VoiceResult, error) {
		return p.ConvertVoice(ctx, req)
	})
}

// Capabilities returns combined capabilities of all providers.
func (c *Chain) Capabilities() Capabilities {
	var caps Capabilities
	for _, p := range c.providers {
		pc := p.Capabilities()
		caps.Detect = caps.Detect || pc.Detect
		caps.Embed = caps.Embed || pc.Embed
		caps.Swap = caps.Swap || pc.Swap
		caps.AdvancedSwap = caps.AdvancedSwap || pc.AdvancedSwap
		caps.Voice = caps.Voice || pc.Voice
	}
	return caps
}

// Health returns an error only if every provider is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return WrapError("chain", "health", lastErr)
	}

	c.logger.Debug("health check complete",
		"healthy", healthy,
		"total", len(c.providers),
	)
	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the list of providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Verify Chain implements Provider at compile time.
var _ Provider = (*Chain)(nil)
