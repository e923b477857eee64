package session

import "time"

// State is the session lifecycle state.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// transitions lists the legal next states. Failed and closed are reachable
// from everywhere except closed.
var transitions = map[State][]State{
	StateNew:          {StateConnecting},
	StateConnecting:   {StateConnected},
	StateConnected:    {StateDisconnected},
	StateDisconnected: {StateConnecting, StateConnected},
	StateFailed:       {},
	StateClosed:       {},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateFailed {
		return from != StateFailed
	}
	if to == StateClosed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PeerState is the connectivity state reported by the peer connection.
type PeerState string

const (
	PeerNew          PeerState = "new"
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerFailed       PeerState = "failed"
	PeerClosed       PeerState = "closed"
)

// Description is an SDP offer or answer.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one ICE candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// TrackKind identifies an outbound track type.
type TrackKind string

const (
	// TrackAudio is an Opus audio track.
	TrackAudio TrackKind = "audio"

	// TrackFrames is an unordered, unreliable data channel carrying
	// rendered JPEG frames.
	TrackFrames TrackKind = "frames"
)

// LocalTrack describes an outbound track to attach.
type LocalTrack struct {
	ID   string    `json:"id"`
	Kind TrackKind `json:"kind"`
}

// TrackWriter sends media on an attached local track.
type TrackWriter interface {
	// Write sends one encoded unit. duration is the media time it covers;
	// data channel writers ignore it.
	Write(data []byte, duration time.Duration) error
}

// RemoteTrack describes media arriving from the remote peer.
type RemoteTrack struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	StreamID string `json:"stream_id,omitempty"`
	Codec    string `json:"codec,omitempty"`
}

// ConnectionStats are transport counters sampled from the peer.
type ConnectionStats struct {
	BytesSent     uint64        `json:"bytes_sent"`
	BytesReceived uint64        `json:"bytes_received"`
	PacketsLost   int64         `json:"packets_lost"`
	RoundTripTime time.Duration `json:"round_trip_time_ns"`
	SampledAt     time.Time     `json:"sampled_at"`
}

// Info is a read-only view of the session.
type Info struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	Since        time.Time `json:"since"`
	LocalTracks  int       `json:"local_tracks"`
	RemoteTracks int       `json:"remote_tracks"`
}
