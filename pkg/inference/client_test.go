package inference

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/teslashibe/roopcam/pkg/frame"
)

func TestClient_BusyPerKind(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	mock := NewMock()
	mock.DetectFunc = func(ctx context.Context, f frame.Sample) (*Detection, error) {
		close(entered)
		<-release
		return &Detection{}, nil
	}
	client := NewClient(mock)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := client.Detect(context.Background(), testFrame()); err != nil {
			t.Errorf("first Detect: %v", err)
		}
	}()
	<-entered

	if !client.InFlight(KindDetect) {
		t.Error("Expected detect to be in flight")
	}

	// Same kind is rejected without reaching the provider.
	if _, err := client.Detect(context.Background(), testFrame()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	// Other kinds are independent.
	if _, err := client.ExtractEmbedding(context.Background(), testFrame()); err != nil {
		t.Errorf("ExtractEmbedding while detect busy: %v", err)
	}

	close(release)
	wg.Wait()

	if mock.CallCount("Detect") != 1 {
		t.Errorf("Expected 1 provider Detect call, got %d", mock.CallCount("Detect"))
	}
	if client.InFlight(KindDetect) {
		t.Error("Expected detect gate released")
	}

	stats := client.Stats()[KindDetect]
	if stats.Calls != 1 || stats.Rejected != 1 {
		t.Errorf("Unexpected detect stats: %+v", stats)
	}

	// Gate is free again.
	mock.DetectFunc = NewMock().DetectFunc
	if _, err := client.Detect(context.Background(), testFrame()); err != nil {
		t.Errorf("Detect after release: %v", err)
	}
}

func TestClient_InvalidInput(t *testing.T) {
	mock := NewMock()
	client := NewClient(mock)
	ctx := context.Background()

	if _, err := client.Detect(ctx, frame.Sample{}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Detect(empty) = %v, want ErrInvalidFrame", err)
	}
	if _, err := client.ExtractEmbedding(ctx, frame.Sample{}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("ExtractEmbedding(empty) = %v, want ErrInvalidFrame", err)
	}
	if _, err := client.Swap(ctx, testFrame(), &Embedding{}, SwapOptions{}); !errors.Is(err, ErrNoEmbedding) {
		t.Errorf("Swap(no embedding) = %v, want ErrNoEmbedding", err)
	}
	if len(mock.Calls()) != 0 {
		t.Errorf("Invalid input reached provider: %v", mock.Calls())
	}
}

func TestClient_FailureReleasesGate(t *testing.T) {
	mock := WithError(ErrInferenceUnavailable)
	client := NewClient(mock)
	emb := &Embedding{Vector: []float64{1}}

	for i := 0; i < 3; i++ {
		_, err := client.Swap(context.Background(), testFrame(), emb, SwapOptions{Quality: QualityFast})
		if !errors.Is(err, ErrInferenceUnavailable) {
			t.Fatalf("attempt %d: expected ErrInferenceUnavailable, got %v", i, err)
		}
	}
	if got := client.Stats()[KindSwap].Failures; got != 3 {
		t.Errorf("Expected 3 failures, got %d", got)
	}
	if client.InFlight(KindSwap) {
		t.Error("Gate still held after failures")
	}
}

func TestClient_SwapUsesEmbedding(t *testing.T) {
	mock := NewMock()
	client := NewClient(mock)

	emb := &Embedding{Vector: MockVector([]byte("face"))}
	res, err := client.Swap(context.Background(), testFrame(), emb, SwapOptions{Quality: QualityMaximum})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if last := mock.LastCall("Swap"); last == nil || last.Embedding != emb {
		t.Error("Expected swap to receive the given embedding")
	}
	if res.Latency != QualityMaximum.Budget() {
		t.Errorf("Expected latency %v, got %v", QualityMaximum.Budget(), res.Latency)
	}
}
