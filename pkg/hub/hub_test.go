package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

type fakeConn struct {
	mu     sync.Mutex
	writes []Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(t int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch t {
	case websocket.TextMessage:
		f.writes = append(f.writes, NewJSONMessage(data))
	case websocket.BinaryMessage:
		f.writes = append(f.writes, NewBinaryMessage(data))
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) received() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.writes...)
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

func startHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestBroadcastReachesClients(t *testing.T) {
	h := New("test")
	startHub(t, h)

	conn := newFakeConn()
	c := NewClient(h, conn)
	go c.Run()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.BroadcastBinary([]byte{0xff, 0xd8})
	if err := h.BroadcastJSON(map[string]int{"fps": 30}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	waitFor(t, func() bool { return len(conn.received()) == 2 })

	got := conn.received()
	if got[0].Type != BinaryMessage || got[1].Type != JSONMessage {
		t.Errorf("Unexpected message types: %+v", got)
	}
	if string(got[1].Data) != `{"fps":30}` {
		t.Errorf("Unexpected JSON payload: %s", got[1].Data)
	}

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestOnConnectGreeting(t *testing.T) {
	h := New("stats", WithOnConnect(func() []Message {
		return []Message{NewJSONMessage([]byte(`{"hello":true}`))}
	}))
	startHub(t, h)

	conn := newFakeConn()
	go NewClient(h, conn).Run()
	waitFor(t, func() bool { return len(conn.received()) == 1 })
	conn.Close()
}

func TestSlowClientPolicies(t *testing.T) {
	for _, tc := range []struct {
		name      string
		policy    Policy
		remaining int
	}{
		{"drop message", DropMessage, 1},
		{"drop client", DropClient, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := New("slow", WithPolicy(tc.policy), WithQueueSize(1))
			startHub(t, h)

			// No pumps run, so the queue fills after one message.
			NewClient(h, newFakeConn())
			waitFor(t, func() bool { return h.ClientCount() == 1 })

			h.BroadcastBinary([]byte{1})
			h.BroadcastBinary([]byte{2})
			waitFor(t, func() bool { return h.Dropped() == 1 })

			if n := h.ClientCount(); n != tc.remaining {
				t.Errorf("Expected %d clients, got %d", tc.remaining, n)
			}
		})
	}
}

func TestClientAfterHubStopped(t *testing.T) {
	h := New("stopped")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	c := NewClient(h, newFakeConn())
	if _, ok := <-c.send; ok {
		t.Error("Expected client of a stopped hub to start closed")
	}
}
