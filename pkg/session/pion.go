package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// PionPeer implements Peer on a pion PeerConnection.
type PionPeer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu          sync.RWMutex
	onCandidate func(Candidate)
	onState     func(PeerState)
	onTrack     func(RemoteTrack)
	closed      bool
}

// NewPionPeer creates a peer connection with the given ICE servers.
func NewPionPeer(cfg PeerConfig) (*PionPeer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:           servers,
		ICECandidatePoolSize: cfg.CandidatePoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &PionPeer{pc: pc, logger: logger.With("component", "peer")}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.mu.RLock()
		fn := p.onCandidate
		p.mu.RUnlock()
		if fn != nil {
			fn(Candidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", "state", s.String())
		p.mu.RLock()
		fn := p.onState
		p.mu.RUnlock()
		if fn != nil {
			fn(mapPeerState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info("remote track", "id", track.ID(), "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		p.emitTrack(RemoteTrack{
			ID:       track.ID(),
			Kind:     track.Kind().String(),
			StreamID: track.StreamID(),
			Codec:    track.Codec().MimeType,
		})
		go p.drain(track)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.emitTrack(RemoteTrack{ID: dc.Label(), Kind: "data"})
	})

	return p, nil
}

func mapPeerState(s webrtc.PeerConnectionState) PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return PeerClosed
	default:
		return PeerNew
	}
}

func (p *PionPeer) emitTrack(t RemoteTrack) {
	p.mu.RLock()
	fn := p.onTrack
	p.mu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

// drain reads RTP from a remote track until it ends so the receive buffer
// never stalls the transport.
func (p *PionPeer) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	var pkt rtp.Packet
	var packets int64
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("remote track ended", "id", track.ID(), "error", err)
			}
			p.logger.Debug("remote track drained", "id", track.ID(), "packets", packets)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		packets++
	}
}

func (p *PionPeer) CreateOffer(ctx context.Context, iceRestart bool) (Description, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return Description{}, fmt.Errorf("set local description: %w", err)
	}
	return Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *PionPeer) SetRemoteAnswer(ctx context.Context, answer Description) error {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *PionPeer) AddICECandidate(c Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *PionPeer) AddTrack(t LocalTrack) (TrackWriter, error) {
	switch t.Kind {
	case TrackAudio:
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  1,
		}, t.ID, "roopcam")
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return nil, fmt.Errorf("add audio track: %w", err)
		}
		go drainRTCP(sender)
		return &sampleWriter{track: track}, nil

	case TrackFrames:
		ordered := false
		retransmits := uint16(0)
		label := t.ID
		if label == "" {
			label = string(TrackFrames)
		}
		dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &retransmits,
		})
		if err != nil {
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		return &channelWriter{dc: dc}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrack, t.Kind)
	}
}

// drainRTCP consumes receiver reports so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *PionPeer) Stats(ctx context.Context) (ConnectionStats, error) {
	out := ConnectionStats{SampledAt: time.Now()}
	for _, s := range p.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			out.BytesSent += st.BytesSent
		case webrtc.InboundRTPStreamStats:
			out.BytesReceived += st.BytesReceived
			out.PacketsLost += int64(st.PacketsLost)
		case webrtc.ICECandidatePairStats:
			if st.State == webrtc.StatsICECandidatePairStateSucceeded && st.Nominated {
				out.RoundTripTime = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			}
		case webrtc.DataChannelStats:
			out.BytesSent += st.BytesSent
			out.BytesReceived += st.BytesReceived
		}
	}
	return out, nil
}

func (p *PionPeer) OnICECandidate(fn func(Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *PionPeer) OnConnectionState(fn func(PeerState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *PionPeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *PionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}

type sampleWriter struct {
	track *webrtc.TrackLocalStaticSample
}

func (w *sampleWriter) Write(data []byte, duration time.Duration) error {
	return w.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

type channelWriter struct {
	dc  *webrtc.DataChannel
	seq atomic.Uint32
}

// Write sends one frame as SplitFrame chunks once the channel is open and
// drops it before that.
func (w *channelWriter) Write(data []byte, _ time.Duration) error {
	if w.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	chunks, err := SplitFrame(w.seq.Add(1), data)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := w.dc.Send(c); err != nil {
			return fmt.Errorf("send frame chunk: %w", err)
		}
	}
	return nil
}
