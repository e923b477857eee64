package session

import (
	"context"
	"log/slog"
)

// Peer abstracts the peer connection so the state machine can be tested
// without a network stack. PionPeer is the production implementation.
//
// Callbacks may fire on any goroutine, but never from inside a Peer method
// call.
type Peer interface {
	// CreateOffer creates and applies a local offer. iceRestart requests
	// fresh ICE credentials.
	CreateOffer(ctx context.Context, iceRestart bool) (Description, error)

	// SetRemoteAnswer applies the remote answer.
	SetRemoteAnswer(ctx context.Context, answer Description) error

	// AddICECandidate adds a remote candidate.
	AddICECandidate(c Candidate) error

	// AddTrack attaches an outbound track.
	AddTrack(t LocalTrack) (TrackWriter, error)

	// Stats samples transport counters.
	Stats(ctx context.Context) (ConnectionStats, error)

	OnICECandidate(fn func(Candidate))
	OnConnectionState(fn func(PeerState))
	OnTrack(fn func(RemoteTrack))

	// Close releases the connection and all tracks.
	Close() error
}

// PeerConfig is what a PeerFactory needs to build a Peer.
type PeerConfig struct {
	ICEServers        []string
	CandidatePoolSize uint8
	Logger            *slog.Logger
}

// PeerFactory creates a Peer.
type PeerFactory func(cfg PeerConfig) (Peer, error)

// PionFactory builds PionPeers.
func PionFactory(cfg PeerConfig) (Peer, error) {
	return NewPionPeer(cfg)
}
