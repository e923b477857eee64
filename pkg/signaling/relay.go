package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/roopcam/pkg/session"
)

// Session is the part of session.Manager the relay drives.
type Session interface {
	ID() string
	CreateOffer(ctx context.Context) (session.Description, error)
	ApplyRemoteAnswer(ctx context.Context, answer session.Description) error
	AddRemoteCandidate(c session.Candidate) error
	Reconnect(ctx context.Context) (session.Description, error)
	OnICECandidate(fn func(session.Candidate))
	Close() error
}

// SendTimeout bounds each outbound message.
const SendTimeout = 5 * time.Second

// Relay forwards local offers and candidates to the channel and applies
// remote answers and candidates to the session. The local side always
// offers.
type Relay struct {
	sess   Session
	ch     Channel
	logger *slog.Logger
}

// NewRelay wires sess to ch. Local candidates start flowing immediately.
func NewRelay(sess Session, ch Channel, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{sess: sess, ch: ch, logger: logger.With("component", "signaling")}
	sess.OnICECandidate(r.sendCandidate)
	return r
}

// Offer creates the session offer and sends it.
func (r *Relay) Offer(ctx context.Context) error {
	offer, err := r.sess.CreateOffer(ctx)
	if err != nil {
		return err
	}
	return r.send(ctx, Message{Type: TypeOffer, SessionID: r.sess.ID(), SDP: offer.SDP})
}

// Reconnect restarts ICE and sends the new offer.
func (r *Relay) Reconnect(ctx context.Context) error {
	offer, err := r.sess.Reconnect(ctx)
	if err != nil {
		return err
	}
	return r.send(ctx, Message{Type: TypeOffer, SessionID: r.sess.ID(), SDP: offer.SDP})
}

// Bye tells the remote side the session is over.
func (r *Relay) Bye(ctx context.Context) error {
	return r.send(ctx, Message{Type: TypeBye, SessionID: r.sess.ID()})
}

// Run applies incoming messages until ctx is done, the channel closes or
// the remote side says bye.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		done, err := r.Handle(ctx, msg)
		if err != nil {
			r.logger.Warn("signaling message rejected", "type", msg.Type, "error", err)
		}
		if done {
			return nil
		}
	}
}

// Handle applies one incoming message. It reports true when the session
// has ended.
func (r *Relay) Handle(ctx context.Context, msg Message) (bool, error) {
	if id := r.sess.ID(); msg.SessionID != "" && id != "" && msg.SessionID != id {
		r.logger.Debug("ignoring message for other session", "session_id", msg.SessionID)
		return false, nil
	}

	switch msg.Type {
	case TypeAnswer:
		return false, r.sess.ApplyRemoteAnswer(ctx, session.Description{Type: TypeAnswer, SDP: msg.SDP})
	case TypeCandidate:
		return false, r.sess.AddRemoteCandidate(session.Candidate{
			Candidate:     msg.Candidate,
			SDPMid:        msg.SDPMid,
			SDPMLineIndex: msg.SDPMLineIndex,
		})
	case TypeBye:
		r.logger.Info("remote peer left", "session_id", msg.SessionID)
		return true, r.sess.Close()
	case TypeOffer:
		return false, fmt.Errorf("%w: remote offers are not accepted", ErrUnknownType)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func (r *Relay) sendCandidate(c session.Candidate) {
	ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
	defer cancel()

	err := r.send(ctx, Message{
		Type:          TypeCandidate,
		SessionID:     r.sess.ID(),
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
	if err != nil {
		r.logger.Debug("candidate not relayed", "error", err)
	}
}

func (r *Relay) send(ctx context.Context, msg Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, SendTimeout)
		defer cancel()
	}
	return r.ch.Send(ctx, msg)
}
