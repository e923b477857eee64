package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/roopcam/pkg/frame"
)

func testSource() frame.Source {
	return frame.SourceFunc(func(context.Context) (frame.Sample, error) {
		return frame.Sample{Data: []byte{0xff, 0xd8}, Width: 4, Height: 4}, nil
	})
}

type recordingSink struct {
	mu   sync.Mutex
	outs []Output
}

func (r *recordingSink) Publish(_ context.Context, out Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs = append(r.outs, out)
}

func (r *recordingSink) snapshot() []Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Output(nil), r.outs...)
}

func rawPass(_ context.Context, in frame.Sample) (Output, error) {
	return Output{Frame: in, Variant: "raw"}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartValidation(t *testing.T) {
	s := New(rawPass, &recordingSink{})

	if err := s.Start(context.Background(), testSource(), 0); !errors.Is(err, ErrInvalidTickRate) {
		t.Errorf("Expected ErrInvalidTickRate, got %v", err)
	}
	if err := s.Start(context.Background(), nil, 30); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	ticker := NewManualTicker()
	s := New(rawPass, &recordingSink{}, WithTickerFactory(ticker.Factory()))

	if err := s.Start(context.Background(), testSource(), 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background(), testSource(), 30); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestPublishesInCaptureOrder(t *testing.T) {
	ticker := NewManualTicker()
	sink := &recordingSink{}
	s := New(rawPass, sink, WithTickerFactory(ticker.Factory()))

	if err := s.Start(context.Background(), testSource(), 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 20; i++ {
		ticker.Tick()
		n := i + 1
		waitFor(t, func() bool { return len(sink.snapshot()) == n && !s.Busy() })
	}

	outs := sink.snapshot()
	if len(outs) != 20 {
		t.Fatalf("Expected 20 published frames, got %d", len(outs))
	}
	for i := 1; i < len(outs); i++ {
		if outs[i].Frame.Seq <= outs[i-1].Frame.Seq {
			t.Errorf("Non-increasing seq at %d: %d after %d", i, outs[i].Frame.Seq, outs[i-1].Frame.Seq)
		}
		if outs[i].Frame.CapturedAt.Before(outs[i-1].Frame.CapturedAt) {
			t.Errorf("Capture time went backwards at %d", i)
		}
	}
}

func TestSkipsWhileBusy(t *testing.T) {
	ticker := NewManualTicker()
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32

	pass := func(ctx context.Context, in frame.Sample) (Output, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		return Output{Frame: in, Variant: "raw"}, nil
	}

	var captures atomic.Int32
	src := frame.SourceFunc(func(context.Context) (frame.Sample, error) {
		captures.Add(1)
		return frame.Sample{Data: []byte{1}}, nil
	})

	sink := &recordingSink{}
	s := New(pass, sink, WithTickerFactory(ticker.Factory()))
	if err := s.Start(context.Background(), src, 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ticker.Tick()
	waitFor(t, func() bool { return inFlight.Load() == 1 })

	for i := 0; i < 5; i++ {
		ticker.Tick()
	}
	waitFor(t, func() bool { return s.Stats().Ticks == 6 })

	st := s.Stats()
	if st.Skipped != 5 {
		t.Errorf("Expected 5 skipped ticks, got %d", st.Skipped)
	}
	if st.Dispatched != 1 {
		t.Errorf("Expected 1 dispatched tick, got %d", st.Dispatched)
	}
	if captures.Load() != 1 {
		t.Errorf("Expected 1 capture while busy, got %d", captures.Load())
	}

	close(release)
	s.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("Expected at most 1 pass in flight, got %d", maxInFlight.Load())
	}
	if len(sink.snapshot()) != 1 {
		t.Errorf("Expected 1 published frame, got %d", len(sink.snapshot()))
	}
}

func TestStopDiscardsInFlight(t *testing.T) {
	ticker := NewManualTicker()
	started := make(chan struct{})
	release := make(chan struct{})

	pass := func(ctx context.Context, in frame.Sample) (Output, error) {
		close(started)
		<-release
		return Output{Frame: in, Variant: "swapped"}, nil
	}

	sink := &recordingSink{}
	s := New(pass, sink, WithTickerFactory(ticker.Factory()))
	if err := s.Start(context.Background(), testSource(), 30); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ticker.Tick()
	<-started
	s.Stop()
	close(release)
	s.Wait()

	if n := len(sink.snapshot()); n != 0 {
		t.Errorf("Expected no frames after stop, got %d", n)
	}
	if st := s.Stats(); st.Dropped != 1 || st.Running {
		t.Errorf("Expected 1 dropped and not running, got %+v", st)
	}
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSink) Publish(context.Context, Output) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
}

func TestStopWaitsForPublishInSink(t *testing.T) {
	ticker := NewManualTicker()
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(rawPass, sink, WithTickerFactory(ticker.Factory()))
	if err := s.Start(context.Background(), testSource(), 30); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ticker.Tick()
	<-sink.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Expected Stop to wait for the publication in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	<-stopped
	s.Wait()

	if n := sink.calls.Load(); n != 1 {
		t.Errorf("Expected exactly 1 publication, got %d", n)
	}
}

func TestRestartAfterStop(t *testing.T) {
	ticker := NewManualTicker()
	sink := &recordingSink{}
	s := New(rawPass, sink, WithTickerFactory(ticker.Factory()))

	for round := 0; round < 2; round++ {
		if err := s.Start(context.Background(), testSource(), 30); err != nil {
			t.Fatalf("Start round %d: %v", round, err)
		}
		ticker.Tick()
		n := round + 1
		waitFor(t, func() bool { return len(sink.snapshot()) == n && !s.Busy() })
		s.Stop()
	}

	outs := sink.snapshot()
	if outs[1].Frame.Seq <= outs[0].Frame.Seq {
		t.Errorf("Expected seq to keep increasing across runs, got %d then %d", outs[0].Frame.Seq, outs[1].Frame.Seq)
	}
}

func TestCaptureErrorCounted(t *testing.T) {
	ticker := NewManualTicker()
	src := frame.SourceFunc(func(context.Context) (frame.Sample, error) {
		return frame.Sample{}, frame.ErrNoFrame
	})
	sink := &recordingSink{}
	s := New(rawPass, sink, WithTickerFactory(ticker.Factory()))
	if err := s.Start(context.Background(), src, 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ticker.Tick()
	waitFor(t, func() bool { return s.Stats().CaptureErrors == 1 })
	s.Wait()

	if len(sink.snapshot()) != 0 {
		t.Error("Expected nothing published on capture error")
	}
}

func TestPassErrorCounted(t *testing.T) {
	ticker := NewManualTicker()
	pass := func(context.Context, frame.Sample) (Output, error) {
		return Output{}, errors.New("boom")
	}
	s := New(pass, &recordingSink{}, WithTickerFactory(ticker.Factory()))
	if err := s.Start(context.Background(), testSource(), 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ticker.Tick()
	waitFor(t, func() bool { return s.Stats().PassErrors == 1 })
}

func TestPublishDropsStale(t *testing.T) {
	sink := &recordingSink{}
	s := New(rawPass, sink)
	r := &run{}

	ctx := context.Background()
	s.publish(ctx, r, Output{Frame: frame.Sample{Seq: 5}})
	s.publish(ctx, r, Output{Frame: frame.Sample{Seq: 3}})
	s.publish(ctx, r, Output{Frame: frame.Sample{Seq: 5}})
	s.publish(ctx, r, Output{Frame: frame.Sample{Seq: 6}})

	outs := sink.snapshot()
	if len(outs) != 2 || outs[0].Frame.Seq != 5 || outs[1].Frame.Seq != 6 {
		t.Errorf("Expected seqs [5 6], got %+v", outs)
	}
	if st := s.Stats(); st.Dropped != 2 || st.LastSeq != 6 {
		t.Errorf("Expected 2 dropped and last seq 6, got %+v", st)
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	ticker := NewManualTicker()
	s := New(rawPass, &recordingSink{}, WithTickerFactory(ticker.Factory()))
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Start(ctx, testSource(), 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	s.Stop()

	if s.Running() {
		t.Error("Expected scheduler stopped")
	}
}
