// Package inference is the client side of the remote face and voice
// inference services.
//
// Providers implement the raw request/response contract (HTTP, a local
// OpenCV detector, or a test Mock). Client wraps a Provider and enforces at
// most one in-flight call per call kind: a call issued while another of the
// same kind is outstanding fails immediately with ErrBusy.
//
// Example usage:
//
//	p, _ := inference.NewHTTPProvider(
//	    inference.WithBaseURL("http://gpu-box:8000/api"),
//	)
//	client := inference.NewClient(p)
//	defer client.Close()
//
//	det, err := client.Detect(ctx, sample)
//	if err != nil {
//	    // treat as zero faces
//	}
package inference

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/roopcam/pkg/frame"
)

// Kind names a remote call.
type Kind string

const (
	KindDetect       Kind = "detect"
	KindEmbed        Kind = "embed"
	KindSwap         Kind = "swap"
	KindAdvancedSwap Kind = "advanced_swap"
	KindVoice        Kind = "voice"
)

// Kinds lists every call kind.
var Kinds = []Kind{KindDetect, KindEmbed, KindSwap, KindAdvancedSwap, KindVoice}

// Provider is the uniform request/response contract for inference
// backends. Implementations are stateless from the caller's perspective.
type Provider interface {
	// Detect finds faces in a frame. An empty result is not an error.
	Detect(ctx context.Context, f frame.Sample) (*Detection, error)

	// ExtractEmbedding computes the identity embedding of the most
	// prominent face in f.
	ExtractEmbedding(ctx context.Context, f frame.Sample) (*Embedding, error)

	// Swap renders the embedding's identity onto target.
	Swap(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error)

	// AdvancedSwap is the offline, non-realtime swap of a source image onto
	// a target image.
	AdvancedSwap(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error)

	// ConvertVoice converts a recorded clip to a target voice.
	ConvertVoice(ctx context.Context, req *VoiceRequest) (*VoiceResult, error)

	// Capabilities reports which calls are supported.
	Capabilities() Capabilities

	// Health checks backend connectivity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Capabilities describes which calls a provider supports.
type Capabilities struct {
	Detect       bool
	Embed        bool
	Swap         bool
	AdvancedSwap bool
	Voice        bool
}

// Supports reports whether kind is supported.
func (c Capabilities) Supports(kind Kind) bool {
	switch kind {
	case KindDetect:
		return c.Detect
	case KindEmbed:
		return c.Embed
	case KindSwap:
		return c.Swap
	case KindAdvancedSwap:
		return c.AdvancedSwap
	case KindVoice:
		return c.Voice
	}
	return false
}

// Point is a normalized (0-1) image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks are the facial keypoints reported with a face.
type Landmarks struct {
	LeftEye  Point `json:"left_eye"`
	RightEye Point `json:"right_eye"`
	Nose     Point `json:"nose"`
	Mouth    Point `json:"mouth"`
}

// FaceBox is one detected face in normalized coordinates.
type FaceBox struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	W          float64   `json:"w"`
	H          float64   `json:"h"`
	Confidence float64   `json:"confidence"`
	Landmarks  Landmarks `json:"landmarks"`
}

// Detection is the result of a detect call.
type Detection struct {
	Faces   []FaceBox
	Model   string
	Latency time.Duration
}

// Count returns the number of faces.
func (d *Detection) Count() int {
	if d == nil {
		return 0
	}
	return len(d.Faces)
}

// MeanConfidence returns the average face confidence, 0 for no faces.
func (d *Detection) MeanConfidence() float64 {
	if d.Count() == 0 {
		return 0
	}
	var sum float64
	for _, f := range d.Faces {
		sum += f.Confidence
	}
	return sum / float64(len(d.Faces))
}

// Embedding is an identity vector and the source image it came from.
// Embeddings are read-only once published.
type Embedding struct {
	Vector     []float64
	Source     uuid.UUID
	Confidence float64
}

// Empty reports whether the embedding carries no vector.
func (e *Embedding) Empty() bool {
	return e == nil || len(e.Vector) == 0
}

// IdentityOf derives a stable identity for image bytes.
func IdentityOf(data []byte) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, data)
}

// SwapOptions are the flags passed through to the swap service.
type SwapOptions struct {
	FullBody        bool
	Quality         Quality
	CloudProcessing bool
}

// SwapResult is a transformed frame.
type SwapResult struct {
	Frame   frame.Sample
	Quality float64
	Latency time.Duration
}

// AdvancedSwapRequest is an offline source-onto-target swap.
type AdvancedSwapRequest struct {
	Source  []byte
	Target  []byte
	Options SwapOptions
}

// AdvancedSwapResult holds the rendered media.
type AdvancedSwapResult struct {
	Data        []byte
	ContentType string
	Latency     time.Duration
}

// VoiceRequest converts a WAV clip to TargetVoice.
type VoiceRequest struct {
	Audio       []byte
	TargetVoice string
}

// VoiceResult holds the converted WAV clip.
type VoiceResult struct {
	Audio   []byte
	Latency time.Duration
}
