// Package session manages the peer-to-peer streaming session as an explicit
// state machine:
//
//	new → connecting → connected → {disconnected → connecting | closed}
//	connected ⇄ disconnected
//	any → failed, any → closed
//
// Illegal calls return a *StateError (errors.Is ErrInvalidState) and leave
// the state unchanged. Reconnection is never automatic; callers use
// Reconnect from disconnected.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/roopcam/internal/observe"
)

// DefaultICEServers are public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config configures a Manager.
type Config struct {
	ICEServers        []string
	CandidatePoolSize uint8

	// Strict panics on InvalidState instead of returning it. Tests and
	// debug builds turn it on.
	Strict bool

	// NewPeer builds the peer connection. Defaults to PionFactory.
	NewPeer PeerFactory

	// Tracks are attached to every session on Initialize.
	Tracks []LocalTrack

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ICEServers:        append([]string(nil), DefaultICEServers...),
		CandidatePoolSize: 10,
	}
}

type localTrack struct {
	def    LocalTrack
	writer TrackWriter
}

// Manager owns one session at a time.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// opMu serializes operations that call into the peer. mu guards state
	// and is never held across a peer call.
	opMu sync.Mutex
	mu   sync.Mutex

	id            string
	state         State
	since         time.Time
	peer          Peer
	answerApplied bool
	peerConnected bool
	tracks        []localTrack
	remoteSeen    map[string]bool

	onCandidate []func(Candidate)
	onTrack     []func(RemoteTrack)
	onState     []func(from, to State)
}

// NewManager creates a manager. Call Initialize before any other operation.
func NewManager(cfg Config) *Manager {
	if cfg.NewPeer == nil {
		cfg.NewPeer = PionFactory
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = append([]string(nil), DefaultICEServers...)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "session"),
		state:  StateNew,
		since:  time.Now(),
	}
}

// Initialize creates the peer connection and starts a new session in
// state new. It is legal before the first session and after a session has
// closed or failed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.peer != nil && m.state != StateClosed && m.state != StateFailed {
		st := m.state
		m.mu.Unlock()
		return m.invalid("initialize", st)
	}
	old := m.peer
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	peer, err := m.cfg.NewPeer(PeerConfig{
		ICEServers:        m.cfg.ICEServers,
		CandidatePoolSize: m.cfg.CandidatePoolSize,
		Logger:            m.logger,
	})
	if err != nil {
		return err
	}

	peer.OnICECandidate(func(c Candidate) { m.handleCandidate(peer, c) })
	peer.OnConnectionState(func(s PeerState) { m.handlePeerState(peer, s) })
	peer.OnTrack(func(t RemoteTrack) { m.handleTrack(peer, t) })

	tracks := make([]localTrack, 0, len(m.cfg.Tracks))
	for _, t := range m.cfg.Tracks {
		w, err := peer.AddTrack(t)
		if err != nil {
			_ = peer.Close()
			return fmt.Errorf("session: add track %s: %w", t.ID, err)
		}
		tracks = append(tracks, localTrack{def: t, writer: w})
	}

	m.mu.Lock()
	m.id = uuid.NewString()
	m.peer = peer
	m.state = StateNew
	m.since = time.Now()
	m.answerApplied = false
	m.peerConnected = false
	m.tracks = tracks
	m.remoteSeen = make(map[string]bool)
	id := m.id
	m.mu.Unlock()

	m.logger.Info("session initialized", "session_id", id, "ice_servers", len(m.cfg.ICEServers))
	return nil
}

// AddLocalTracks attaches outbound tracks. Legal in new and connecting.
// Writers are returned in argument order.
func (m *Manager) AddLocalTracks(tracks ...LocalTrack) ([]TrackWriter, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	peer, st, err := m.require("add_local_tracks", StateNew, StateConnecting)
	if err != nil {
		return nil, err
	}

	writers := make([]TrackWriter, 0, len(tracks))
	added := make([]localTrack, 0, len(tracks))
	for _, t := range tracks {
		w, err := peer.AddTrack(t)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
		added = append(added, localTrack{def: t, writer: w})
	}

	m.mu.Lock()
	m.tracks = append(m.tracks, added...)
	m.mu.Unlock()

	m.logger.Debug("local tracks added", "count", len(tracks), "state", st)
	return writers, nil
}

// CreateOffer creates the local offer and moves new → connecting.
func (m *Manager) CreateOffer(ctx context.Context) (Description, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	peer, _, err := m.require("create_offer", StateNew)
	if err != nil {
		return Description{}, err
	}

	offer, err := peer.CreateOffer(ctx, false)
	if err != nil {
		return Description{}, err
	}

	m.mu.Lock()
	m.answerApplied = false
	from, ok := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	if ok {
		m.notify(ctx, from, StateConnecting)
	}
	return offer, nil
}

// ApplyRemoteAnswer applies the remote answer. Legal once per offer while
// connecting. The session becomes connected when the peer reports
// connectivity.
func (m *Manager) ApplyRemoteAnswer(ctx context.Context, answer Description) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.peer == nil {
		m.mu.Unlock()
		return m.notInitialized()
	}
	if m.state != StateConnecting || m.answerApplied {
		st := m.state
		m.mu.Unlock()
		return m.invalid("apply_remote_answer", st)
	}
	peer := m.peer
	m.mu.Unlock()

	if err := peer.SetRemoteAnswer(ctx, answer); err != nil {
		return err
	}

	m.mu.Lock()
	m.answerApplied = true
	var from State
	var ok bool
	if m.peerConnected && m.state == StateConnecting {
		from, ok = m.setStateLocked(StateConnected)
	}
	m.mu.Unlock()
	if ok {
		m.notify(ctx, from, StateConnected)
	}
	return nil
}

// AddRemoteCandidate adds a candidate relayed from the remote peer.
func (m *Manager) AddRemoteCandidate(c Candidate) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	peer, _, err := m.require("add_remote_candidate", StateConnecting, StateConnected, StateDisconnected)
	if err != nil {
		return err
	}
	return peer.AddICECandidate(c)
}

// Reconnect restarts ICE from disconnected and returns the new offer. The
// session moves to connecting and needs a fresh answer.
func (m *Manager) Reconnect(ctx context.Context) (Description, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	peer, _, err := m.require("reconnect", StateDisconnected)
	if err != nil {
		return Description{}, err
	}

	offer, err := peer.CreateOffer(ctx, true)
	if err != nil {
		return Description{}, err
	}

	m.mu.Lock()
	m.answerApplied = false
	m.peerConnected = false
	from, ok := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	if ok {
		m.notify(ctx, from, StateConnecting)
	}
	m.logger.Info("session reconnecting", "session_id", m.ID())
	return offer, nil
}

// Close ends the session and releases the peer and its tracks. Calling it
// again is a no-op.
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	peer := m.peer
	m.tracks = nil
	from, ok := m.setStateLocked(StateClosed)
	m.mu.Unlock()

	var err error
	if peer != nil {
		err = peer.Close()
	}
	if ok {
		m.notify(context.Background(), from, StateClosed)
	}
	m.logger.Info("session closed", "session_id", m.ID())
	return err
}

// OnICECandidate registers a handler for locally gathered candidates. The
// caller relays them to the remote peer.
func (m *Manager) OnICECandidate(fn func(Candidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCandidate = append(m.onCandidate, fn)
}

// OnRemoteTrack registers a handler for remote media. It fires at most
// once per track per session.
func (m *Manager) OnRemoteTrack(fn func(RemoteTrack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = append(m.onTrack, fn)
}

// OnStateChange registers a handler for state transitions.
func (m *Manager) OnStateChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ID returns the current session ID, empty before Initialize.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Info returns a read-only view of the session.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		ID:           m.id,
		State:        m.state,
		Since:        m.since,
		LocalTracks:  len(m.tracks),
		RemoteTracks: len(m.remoteSeen),
	}
}

// ConnectionStats samples transport counters from the peer.
func (m *Manager) ConnectionStats(ctx context.Context) (ConnectionStats, error) {
	m.mu.Lock()
	peer := m.peer
	closed := m.state == StateClosed
	m.mu.Unlock()

	if peer == nil || closed {
		return ConnectionStats{}, ErrNotInitialized
	}
	return peer.Stats(ctx)
}

// Write sends data on every attached local track of kind k. It is a no-op
// unless the session is connected.
func (m *Manager) Write(k TrackKind, data []byte, duration time.Duration) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	var writers []TrackWriter
	for _, t := range m.tracks {
		if t.def.Kind == k {
			writers = append(writers, t.writer)
		}
	}
	m.mu.Unlock()

	for _, w := range writers {
		if err := w.Write(data, duration); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) handleCandidate(peer Peer, c Candidate) {
	m.mu.Lock()
	if peer != m.peer || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	handlers := slices.Clone(m.onCandidate)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(c)
	}
}

func (m *Manager) handleTrack(peer Peer, t RemoteTrack) {
	m.mu.Lock()
	if peer != m.peer || m.state == StateClosed || m.remoteSeen[t.ID] {
		m.mu.Unlock()
		return
	}
	m.remoteSeen[t.ID] = true
	handlers := slices.Clone(m.onTrack)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(t)
	}
}

func (m *Manager) handlePeerState(peer Peer, ps PeerState) {
	m.mu.Lock()
	if peer != m.peer {
		m.mu.Unlock()
		return
	}

	var to State
	switch ps {
	case PeerConnected:
		m.peerConnected = true
		switch {
		case m.state == StateConnecting && m.answerApplied:
			to = StateConnected
		case m.state == StateDisconnected:
			to = StateConnected
		}
	case PeerDisconnected:
		m.peerConnected = false
		if m.state == StateConnected {
			to = StateDisconnected
		}
	case PeerFailed:
		m.peerConnected = false
		to = StateFailed
	}

	var from State
	var ok bool
	if to != "" {
		from, ok = m.setStateLocked(to)
	}
	m.mu.Unlock()

	if ok {
		m.notify(context.Background(), from, to)
	}
}

// setStateLocked applies a legal transition. Caller holds mu.
func (m *Manager) setStateLocked(to State) (State, bool) {
	from := m.state
	if from == to || !CanTransition(from, to) {
		return from, false
	}
	m.state = to
	m.since = time.Now()
	return from, true
}

func (m *Manager) notify(ctx context.Context, from, to State) {
	m.cfg.Metrics.RecordTransition(ctx, string(from), string(to))

	m.mu.Lock()
	id := m.id
	handlers := slices.Clone(m.onState)
	m.mu.Unlock()

	if to == StateFailed || to == StateDisconnected {
		m.logger.Warn("session state changed", "session_id", id, "from", from, "to", to)
	} else {
		m.logger.Info("session state changed", "session_id", id, "from", from, "to", to)
	}
	for _, fn := range handlers {
		fn(from, to)
	}
}

// require checks that the session is initialized and in one of allowed.
func (m *Manager) require(op string, allowed ...State) (Peer, State, error) {
	m.mu.Lock()
	peer, st := m.peer, m.state
	m.mu.Unlock()

	if peer == nil {
		return nil, st, m.notInitialized()
	}
	for _, s := range allowed {
		if st == s {
			return peer, st, nil
		}
	}
	return nil, st, m.invalid(op, st)
}

func (m *Manager) invalid(op string, st State) error {
	err := &StateError{Op: op, State: st}
	m.logger.Warn("invalid session operation", "op", op, "state", st)
	if m.cfg.Strict {
		panic(err)
	}
	return err
}

func (m *Manager) notInitialized() error {
	if m.cfg.Strict {
		panic(ErrNotInitialized)
	}
	return ErrNotInitialized
}
