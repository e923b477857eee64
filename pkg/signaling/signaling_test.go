package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/roopcam/pkg/session"
)

func newSession(t *testing.T) (*session.Manager, *session.MockPeer) {
	t.Helper()
	peer := session.NewMockPeer()
	m := session.NewManager(session.Config{NewPeer: session.MockFactory(peer)})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m, peer
}

func receive(t *testing.T, ch Channel) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return msg
}

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	if err := a.Send(ctx, Message{Type: TypeOffer, SDP: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg := receive(t, b); msg.Type != TypeOffer || msg.SDP != "x" {
		t.Errorf("Unexpected message: %+v", msg)
	}

	a.Close()
	if err := b.Send(ctx, Message{Type: TypeBye}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := b.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestRelayOfferAnswerFlow(t *testing.T) {
	m, peer := newSession(t)
	local, remote := Pipe()
	relay := NewRelay(m, local, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	if err := relay.Offer(ctx); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	offer := receive(t, remote)
	if offer.Type != TypeOffer || offer.SessionID != m.ID() || offer.SDP == "" {
		t.Fatalf("Unexpected offer: %+v", offer)
	}

	// Local candidates are relayed out.
	peer.EmitCandidate(session.Candidate{Candidate: "candidate:local"})
	if c := receive(t, remote); c.Type != TypeCandidate || c.Candidate != "candidate:local" {
		t.Errorf("Unexpected candidate message: %+v", c)
	}

	remote.Send(ctx, Message{Type: TypeAnswer, SessionID: m.ID(), SDP: "v=0 answer"})
	remote.Send(ctx, Message{Type: TypeCandidate, SessionID: m.ID(), Candidate: "candidate:remote"})

	deadline := time.Now().Add(time.Second)
	for peer.AnswerCount() == 0 || peer.CandidateCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("answer and candidate not applied")
		}
		time.Sleep(time.Millisecond)
	}

	peer.EmitState(session.PeerConnected)
	if m.State() != session.StateConnected {
		t.Errorf("Expected connected, got %s", m.State())
	}

	remote.Send(ctx, Message{Type: TypeBye, SessionID: m.ID()})
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after bye")
	}
	if m.State() != session.StateClosed {
		t.Errorf("Expected closed after bye, got %s", m.State())
	}
}

func TestRelayRejectsAnswerBeforeOffer(t *testing.T) {
	m, _ := newSession(t)
	local, _ := Pipe()
	relay := NewRelay(m, local, nil)

	_, err := relay.Handle(context.Background(), Message{Type: TypeAnswer, SDP: "v=0"})
	if !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
	if m.State() != session.StateNew {
		t.Errorf("Expected new, got %s", m.State())
	}
}

func TestRelayIgnoresOtherSessions(t *testing.T) {
	m, peer := newSession(t)
	local, _ := Pipe()
	relay := NewRelay(m, local, nil)
	m.CreateOffer(context.Background())

	if _, err := relay.Handle(context.Background(), Message{Type: TypeAnswer, SessionID: "other", SDP: "v=0"}); err != nil {
		t.Errorf("Expected foreign message ignored, got %v", err)
	}
	if len(peer.Answers) != 0 {
		t.Error("Expected answer for other session not applied")
	}
}

func TestRelayUnknownType(t *testing.T) {
	m, _ := newSession(t)
	local, _ := Pipe()
	relay := NewRelay(m, local, nil)

	if _, err := relay.Handle(context.Background(), Message{Type: "ping"}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestRelayReconnect(t *testing.T) {
	m, peer := newSession(t)
	local, remote := Pipe()
	relay := NewRelay(m, local, nil)
	ctx := context.Background()

	relay.Offer(ctx)
	receive(t, remote)
	relay.Handle(ctx, Message{Type: TypeAnswer, SDP: "v=0"})
	peer.EmitState(session.PeerConnected)
	peer.EmitState(session.PeerDisconnected)

	if err := relay.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if msg := receive(t, remote); msg.Type != TypeOffer {
		t.Errorf("Expected restart offer, got %+v", msg)
	}
	if m.State() != session.StateConnecting {
		t.Errorf("Expected connecting, got %s", m.State())
	}
}

func TestWSChannel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == TypeOffer {
				msg = Message{Type: TypeAnswer, SessionID: msg.SessionID, SDP: "answer for " + msg.SDP}
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()
	ch, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(ctx, Message{Type: TypeOffer, SessionID: "s1", SDP: "offer"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := receive(t, ch)
	if msg.Type != TypeAnswer || msg.SDP != "answer for offer" || msg.SessionID != "s1" {
		t.Errorf("Unexpected reply: %+v", msg)
	}

	rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := ch.Receive(rctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
