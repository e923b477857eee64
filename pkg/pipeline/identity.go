package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/roopcam/pkg/frame"
	"github.com/teslashibe/roopcam/pkg/inference"
)

// IdentityState is the progress of source identity extraction.
type IdentityState string

const (
	IdentityNone    IdentityState = "none"
	IdentityPending IdentityState = "pending"
	IdentityReady   IdentityState = "ready"
	IdentityFailed  IdentityState = "failed"
)

// IdentityStatus describes the current source identity.
type IdentityStatus struct {
	State     IdentityState `json:"state"`
	Source    string        `json:"source,omitempty"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type extractFunc func(ctx context.Context, f frame.Sample) (*inference.Embedding, error)

// identity runs at most one extraction at a time. An image submitted while
// one is running replaces any earlier pending image; only the result for
// the latest image is kept. The previous embedding stays usable until then.
type identity struct {
	extract extractFunc
	logger  *slog.Logger

	embedding atomic.Pointer[inference.Embedding]

	mu       sync.Mutex
	last     []byte
	pending  []byte
	inflight bool
	status   IdentityStatus

	wg sync.WaitGroup
}

func newIdentity(extract extractFunc, logger *slog.Logger) *identity {
	return &identity{
		extract: extract,
		logger:  logger,
		status:  IdentityStatus{State: IdentityNone},
	}
}

// Current returns the embedding to swap with, or nil.
func (id *identity) Current() *inference.Embedding {
	return id.embedding.Load()
}

func (id *identity) Status() IdentityStatus {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.status
}

func (id *identity) Last() []byte {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.last
}

func (id *identity) Set(ctx context.Context, img []byte) {
	id.mu.Lock()
	id.last = img
	id.status = IdentityStatus{State: IdentityPending, UpdatedAt: time.Now()}
	if id.inflight {
		id.pending = img
		id.mu.Unlock()
		id.logger.Debug("identity extraction queued behind running one")
		return
	}
	id.inflight = true
	id.wg.Add(1)
	id.mu.Unlock()

	go id.run(ctx, img)
}

func (id *identity) run(ctx context.Context, img []byte) {
	defer id.wg.Done()

	for {
		start := time.Now()
		emb, err := id.extract(ctx, sampleOf(img))
		if err == nil && emb.Empty() {
			err = inference.ErrNoEmbedding
		}

		id.mu.Lock()
		if id.pending != nil {
			img, id.pending = id.pending, nil
			id.mu.Unlock()
			continue
		}
		id.inflight = false
		if err != nil {
			id.embedding.Store(nil)
			id.status = IdentityStatus{State: IdentityFailed, Error: err.Error(), UpdatedAt: time.Now()}
			id.mu.Unlock()
			id.logger.Warn("identity extraction failed", "error", err)
			return
		}
		id.embedding.Store(emb)
		id.status = IdentityStatus{State: IdentityReady, Source: emb.Source.String(), UpdatedAt: time.Now()}
		id.mu.Unlock()

		id.logger.Info("source identity ready",
			"source", emb.Source,
			"confidence", emb.Confidence,
			"took", time.Since(start),
		)
		return
	}
}

// Wait blocks until no extraction is running.
func (id *identity) Wait() {
	id.wg.Wait()
}

func sampleOf(img []byte) frame.Sample {
	s := frame.Sample{Data: img, CapturedAt: time.Now()}
	if w, h, err := frame.DecodeSize(img); err == nil {
		s.Width, s.Height = w, h
	}
	return s
}
