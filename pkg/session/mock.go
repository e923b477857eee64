package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockPeer is a scriptable Peer for tests. Emit* methods drive the
// callbacks from the caller's goroutine.
type MockPeer struct {
	mu sync.Mutex

	OfferErr  error
	AnswerErr error
	StatsErr  error
	WriteErr  error
	NextStats ConnectionStats

	Offers     []bool // iceRestart flag per CreateOffer call
	Answers    []Description
	Candidates []Candidate
	Tracks     []LocalTrack
	Writes     map[TrackKind]int
	Closed     bool

	onCandidate func(Candidate)
	onState     func(PeerState)
	onTrack     func(RemoteTrack)
}

// NewMockPeer creates a MockPeer.
func NewMockPeer() *MockPeer {
	return &MockPeer{Writes: make(map[TrackKind]int)}
}

// MockFactory returns a PeerFactory that always yields p.
func MockFactory(p *MockPeer) PeerFactory {
	return func(PeerConfig) (Peer, error) { return p, nil }
}

func (m *MockPeer) CreateOffer(_ context.Context, iceRestart bool) (Description, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OfferErr != nil {
		return Description{}, m.OfferErr
	}
	m.Offers = append(m.Offers, iceRestart)
	return Description{Type: "offer", SDP: fmt.Sprintf("v=0\r\no=- %d 0 IN IP4 127.0.0.1\r\n", len(m.Offers))}, nil
}

func (m *MockPeer) SetRemoteAnswer(_ context.Context, answer Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AnswerErr != nil {
		return m.AnswerErr
	}
	m.Answers = append(m.Answers, answer)
	return nil
}

func (m *MockPeer) AddICECandidate(c Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Candidates = append(m.Candidates, c)
	return nil
}

func (m *MockPeer) AddTrack(t LocalTrack) (TrackWriter, error) {
	if t.Kind != TrackAudio && t.Kind != TrackFrames {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrack, t.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tracks = append(m.Tracks, t)
	return mockWriter{peer: m, kind: t.Kind}, nil
}

func (m *MockPeer) Stats(context.Context) (ConnectionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatsErr != nil {
		return ConnectionStats{}, m.StatsErr
	}
	s := m.NextStats
	s.SampledAt = time.Now()
	return s, nil
}

// SetStats replaces the counters returned by Stats.
func (m *MockPeer) SetStats(s ConnectionStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NextStats = s
}

func (m *MockPeer) OnICECandidate(fn func(Candidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCandidate = fn
}

func (m *MockPeer) OnConnectionState(fn func(PeerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

func (m *MockPeer) OnTrack(fn func(RemoteTrack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = fn
}

func (m *MockPeer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// EmitState reports a connectivity change.
func (m *MockPeer) EmitState(s PeerState) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitCandidate reports a locally gathered candidate.
func (m *MockPeer) EmitCandidate(c Candidate) {
	m.mu.Lock()
	fn := m.onCandidate
	m.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitTrack reports remote media.
func (m *MockPeer) EmitTrack(t RemoteTrack) {
	m.mu.Lock()
	fn := m.onTrack
	m.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// WriteCount returns how many writes reached tracks of kind k.
func (m *MockPeer) WriteCount(k TrackKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Writes[k]
}

type mockWriter struct {
	peer *MockPeer
	kind TrackKind
}

func (w mockWriter) Write([]byte, time.Duration) error {
	w.peer.mu.Lock()
	defer w.peer.mu.Unlock()
	if w.peer.WriteErr != nil {
		return w.peer.WriteErr
	}
	w.peer.Writes[w.kind]++
	return nil
}

// AnswerCount returns how many answers were applied.
func (m *MockPeer) AnswerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Answers)
}

// CandidateCount returns how many remote candidates were added.
func (m *MockPeer) CandidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Candidates)
}
