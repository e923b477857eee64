package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
)

func TestPionPeerOffer(t *testing.T) {
	p, err := NewPionPeer(PeerConfig{})
	if err != nil {
		t.Fatalf("NewPionPeer: %v", err)
	}
	defer p.Close()

	if _, err := p.AddTrack(LocalTrack{ID: "mic", Kind: TrackAudio}); err != nil {
		t.Fatalf("AddTrack audio: %v", err)
	}
	w, err := p.AddTrack(LocalTrack{Kind: TrackFrames})
	if err != nil {
		t.Fatalf("AddTrack frames: %v", err)
	}

	// Not open yet, so the write is dropped without error.
	if err := w.Write([]byte{1, 2, 3}, 0); err != nil {
		t.Errorf("Expected write before open to be dropped, got %v", err)
	}

	offer, err := p.CreateOffer(context.Background(), false)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != "offer" {
		t.Errorf("Expected offer type, got %q", offer.Type)
	}
	if !strings.Contains(offer.SDP, "m=audio") {
		t.Error("Expected audio media section in offer")
	}
	if !strings.Contains(offer.SDP, "m=application") {
		t.Error("Expected data channel section in offer")
	}
	if !strings.Contains(strings.ToLower(offer.SDP), "opus") {
		t.Error("Expected Opus codec in offer")
	}
}

func TestPionPeerUnsupportedTrack(t *testing.T) {
	p, err := NewPionPeer(PeerConfig{})
	if err != nil {
		t.Fatalf("NewPionPeer: %v", err)
	}
	defer p.Close()

	if _, err := p.AddTrack(LocalTrack{ID: "x", Kind: "video"}); !errors.Is(err, ErrUnsupportedTrack) {
		t.Errorf("Expected ErrUnsupportedTrack, got %v", err)
	}
}

func TestPionPeerCloseIdempotent(t *testing.T) {
	p, err := NewPionPeer(PeerConfig{})
	if err != nil {
		t.Fatalf("NewPionPeer: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second Close: %v", err)
	}
}

// connectLoopback answers local's offer with a plain pion peer in the same
// process and waits for the frames channel to open.
func connectLoopback(t *testing.T, local *PionPeer, w TrackWriter, onChannel func(*webrtc.DataChannel)) {
	t.Helper()
	ctx := context.Background()

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("remote peer: %v", err)
	}
	t.Cleanup(func() { remote.Close() })
	remote.OnDataChannel(onChannel)

	if _, err := local.CreateOffer(ctx, false); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	waitGathered(t, local.pc)

	if err := remote.SetRemoteDescription(*local.pc.LocalDescription()); err != nil {
		t.Fatalf("remote SetRemoteDescription: %v", err)
	}
	answer, err := remote.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("remote CreateAnswer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(remote)
	if err := remote.SetLocalDescription(answer); err != nil {
		t.Fatalf("remote SetLocalDescription: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("remote gathering timed out")
	}

	if err := local.SetRemoteAnswer(ctx, Description{Type: "answer", SDP: remote.LocalDescription().SDP}); err != nil {
		t.Fatalf("SetRemoteAnswer: %v", err)
	}

	cw := w.(*channelWriter)
	deadline := time.Now().Add(10 * time.Second)
	for cw.dc.ReadyState() != webrtc.DataChannelStateOpen {
		if time.Now().After(deadline) {
			t.Fatal("frames channel never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitGathered(t *testing.T, pc *webrtc.PeerConnection) {
	t.Helper()
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-time.After(10 * time.Second):
		t.Fatal("gathering timed out")
	}
}

// Frames above the 64 KiB data channel message limit arrive whole.
func TestPionPeerLargeFramesLoopback(t *testing.T) {
	local, err := NewPionPeer(PeerConfig{})
	if err != nil {
		t.Fatalf("NewPionPeer: %v", err)
	}
	defer local.Close()

	w, err := local.AddTrack(LocalTrack{ID: "frames", Kind: TrackFrames})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	frames := make(chan []byte, 4)
	connectLoopback(t, local, w, func(dc *webrtc.DataChannel) {
		asm := NewFrameAssembler()
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if f, ok, err := asm.Add(msg.Data); err == nil && ok {
				frames <- f
			}
		})
	})

	for _, size := range []int{30000, 100000, 250000} {
		want := pattern(size)
		if err := w.Write(want, 0); err != nil {
			t.Fatalf("Write %d bytes: %v", size, err)
		}
		select {
		case got := <-frames:
			if !bytes.Equal(got, want) {
				t.Errorf("Frame of %d bytes arrived corrupted (%d bytes)", size, len(got))
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("Frame of %d bytes never arrived", size)
		}
	}
}
