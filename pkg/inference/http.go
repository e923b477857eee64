package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/roopcam/internal/httpc"
	"github.com/teslashibe/roopcam/pkg/frame"
)

const providerHTTP = "http"

// HTTPProvider talks to the inference service over multipart HTTP.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPProvider creates a provider for the service at cfg.BaseURL.
func NewHTTPProvider(opts ...Option) (*HTTPProvider, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.OfflineTimeout)
	}

	return &HTTPProvider{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    hc,
		logger:  cfg.Logger.With("component", "inference.http"),
	}, nil
}

// wire types

type detectResponse struct {
	FacesDetected  int        `json:"faces_detected"`
	Faces          []wireFace `json:"faces"`
	ProcessingTime float64    `json:"processing_time"`
	ModelUsed      string     `json:"model_used"`
	ConfidenceAvg  float64    `json:"confidence_avg"`
}

type wireFace struct {
	ID   string `json:"id"`
	BBox struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"bbox"`
	Confidence float64              `json:"confidence"`
	Landmarks  map[string][]float64 `json:"landmarks"`
}

type embeddingsResponse struct {
	Success    bool `json:"success"`
	Embeddings []struct {
		FaceID     string    `json:"face_id"`
		Embedding  []float64 `json:"embedding"`
		Confidence float64   `json:"confidence"`
	} `json:"embeddings"`
	ProcessingTime float64 `json:"processing_time"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Detect posts the frame to /face/detect.
func (p *HTTPProvider) Detect(ctx context.Context, f frame.Sample) (*Detection, error) {
	if f.Empty() {
		return nil, ErrInvalidFrame
	}
	start := time.Now()

	body, ctype, err := buildForm(func(w *multipart.Writer) error {
		return writeFile(w, "image", "frame.jpg", "image/jpeg", f.Data)
	})
	if err != nil {
		return nil, WrapError(providerHTTP, KindDetect, err)
	}

	resp, err := p.realtime(ctx, p.config.Timeout, KindDetect, "/face/detect", body, ctype)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerHTTP, KindDetect, fmt.Errorf("decode response: %w", err))
	}

	width, height := f.Width, f.Height
	if width == 0 || height == 0 {
		width, height, _ = frame.DecodeSize(f.Data)
	}

	det := &Detection{
		Model:   result.ModelUsed,
		Latency: time.Since(start),
		Faces:   make([]FaceBox, 0, len(result.Faces)),
	}
	for _, wf := range result.Faces {
		det.Faces = append(det.Faces, wf.normalize(width, height))
	}
	// Count-only responses still report how many faces were seen.
	if len(det.Faces) == 0 && result.FacesDetected > 0 {
		for i := 0; i < result.FacesDetected; i++ {
			det.Faces = append(det.Faces, FaceBox{Confidence: result.ConfidenceAvg})
		}
	}
	return det, nil
}

func (wf wireFace) normalize(width, height int) FaceBox {
	sx, sy := 1.0, 1.0
	// Values above 1 are pixels.
	if width > 0 && height > 0 && (wf.BBox.X > 1 || wf.BBox.Y > 1 || wf.BBox.Width > 1 || wf.BBox.Height > 1) {
		sx, sy = float64(width), float64(height)
	}
	pt := func(name string) Point {
		v := wf.Landmarks[name]
		if len(v) < 2 {
			return Point{}
		}
		return Point{X: v[0] / sx, Y: v[1] / sy}
	}
	return FaceBox{
		X:          wf.BBox.X / sx,
		Y:          wf.BBox.Y / sy,
		W:          wf.BBox.Width / sx,
		H:          wf.BBox.Height / sy,
		Confidence: wf.Confidence,
		Landmarks: Landmarks{
			LeftEye:  pt("left_eye"),
			RightEye: pt("right_eye"),
			Nose:     pt("nose"),
			Mouth:    pt("mouth"),
		},
	}
}

// ExtractEmbedding posts the image to /face/embeddings and keeps the first
// face.
func (p *HTTPProvider) ExtractEmbedding(ctx context.Context, f frame.Sample) (*Embedding, error) {
	if f.Empty() {
		return nil, ErrInvalidFrame
	}

	body, ctype, err := buildForm(func(w *multipart.Writer) error {
		return writeFile(w, "image", "source.jpg", "image/jpeg", f.Data)
	})
	if err != nil {
		return nil, WrapError(providerHTTP, KindEmbed, err)
	}

	resp, err := p.realtime(ctx, p.config.Timeout, KindEmbed, "/face/embeddings", body, ctype)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerHTTP, KindEmbed, fmt.Errorf("decode response: %w", err))
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Embedding) == 0 {
		return nil, WrapError(providerHTTP, KindEmbed, ErrNoFace)
	}

	first := result.Embeddings[0]
	return &Embedding{
		Vector:     first.Embedding,
		Source:     IdentityOf(f.Data),
		Confidence: first.Confidence,
	}, nil
}

// Swap posts the target frame and embedding to /face/realtime-swap.
func (p *HTTPProvider) Swap(ctx context.Context, target frame.Sample, emb *Embedding, opts SwapOptions) (*SwapResult, error) {
	if target.Empty() {
		return nil, ErrInvalidFrame
	}
	if emb.Empty() {
		return nil, ErrNoEmbedding
	}
	start := time.Now()

	vec, err := json.Marshal(emb.Vector)
	if err != nil {
		return nil, WrapError(providerHTTP, KindSwap, fmt.Errorf("marshal embedding: %w", err))
	}
	quality := opts.Quality
	if !quality.Valid() {
		quality = QualityBalanced
	}

	body, ctype, err := buildForm(func(w *multipart.Writer) error {
		if err := writeFile(w, "target", "frame.jpg", "image/jpeg", target.Data); err != nil {
			return err
		}
		return writeFields(w, map[string]string{
			"source_embeddings": string(vec),
			"full_body":         strconv.FormatBool(opts.FullBody),
			"quality":           string(quality),
			"cloud_processing":  strconv.FormatBool(opts.CloudProcessing),
		})
	})
	if err != nil {
		return nil, WrapError(providerHTTP, KindSwap, err)
	}

	resp, err := p.realtime(ctx, p.swapTimeout(quality), KindSwap, "/face/realtime-swap", body, ctype)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerHTTP, KindSwap, fmt.Errorf("read response: %w", err))
	}
	if len(data) == 0 {
		return nil, WrapError(providerHTTP, KindSwap, fmt.Errorf("%w: empty swap result", ErrInferenceUnavailable))
	}

	latency := headerMillis(resp.Header, "X-Processing-Time", time.Since(start))
	score := QualityScore(quality, latency)
	if v, err := strconv.ParseFloat(resp.Header.Get("X-Quality-Score"), 64); err == nil && v >= 0 && v <= 1 {
		score = v
	}

	return &SwapResult{
		Frame:   target.WithData(data),
		Quality: score,
		Latency: latency,
	}, nil
}

// AdvancedSwap posts source and target to /face/advanced-swap. Errors
// propagate to the caller.
func (p *HTTPProvider) AdvancedSwap(ctx context.Context, req *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
	if len(req.Source) == 0 || len(req.Target) == 0 {
		return nil, ErrInvalidFrame
	}
	start := time.Now()
	quality := req.Options.Quality
	if !quality.Valid() {
		quality = QualityUltra
	}

	body, ctype, err := buildForm(func(w *multipart.Writer) error {
		if err := writeFile(w, "source", "source.jpg", "image/jpeg", req.Source); err != nil {
			return err
		}
		if err := writeFile(w, "target", "target.jpg", "image/jpeg", req.Target); err != nil {
			return err
		}
		return writeFields(w, map[string]string{
			"quality":          string(quality),
			"full_body":        strconv.FormatBool(req.Options.FullBody),
			"cloud_processing": strconv.FormatBool(req.Options.CloudProcessing),
		})
	})
	if err != nil {
		return nil, WrapError(providerHTTP, KindAdvancedSwap, err)
	}

	resp, err := p.offline(ctx, KindAdvancedSwap, "/face/advanced-swap", body, ctype)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerHTTP, KindAdvancedSwap, fmt.Errorf("read response: %w", err))
	}
	return &AdvancedSwapResult{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Latency:     headerMillis(resp.Header, "X-Processing-Time", time.Since(start)),
	}, nil
}

// ConvertVoice posts a WAV clip to /voice/convert.
func (p *HTTPProvider) ConvertVoice(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
	if len(req.Audio) == 0 {
		return nil, WrapError(providerHTTP, KindVoice, fmt.Errorf("empty audio"))
	}
	start := time.Now()
	target := req.TargetVoice
	if target == "" {
		target = "original"
	}

	body, ctype, err := buildForm(func(w *multipart.Writer) error {
		if err := writeFile(w, "audio", "clip.wav", "audio/wav", req.Audio); err != nil {
			return err
		}
		return writeFields(w, map[string]string{"target_voice": target})
	})
	if err != nil {
		return nil, WrapError(providerHTTP, KindVoice, err)
	}

	resp, err := p.offline(ctx, KindVoice, "/voice/convert", body, ctype)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerHTTP, KindVoice, fmt.Errorf("read response: %w", err))
	}
	return &VoiceResult{
		Audio:   data,
		Latency: headerMillis(resp.Header, "X-Processing-Time", time.Since(start)),
	}, nil
}

// Capabilities returns what this provider supports.
func (p *HTTPProvider) Capabilities() Capabilities {
	return Capabilities{
		Detect:       true,
		Embed:        true,
		Swap:         true,
		AdvancedSwap: true,
		Voice:        true,
	}
}

// Health checks service connectivity.
func (p *HTTPProvider) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return WrapError(providerHTTP, "health", err)
	}
	p.authorize(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return WrapError(providerHTTP, "health", fmt.Errorf("%w: %v", ErrInferenceUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.parseError(resp, "health")
	}
	return nil
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}

// swapTimeout scales the realtime timeout by the quality's latency budget
// relative to balanced, so slower qualities get proportionally longer.
func (p *HTTPProvider) swapTimeout(q Quality) time.Duration {
	return p.config.Timeout * q.Budget() / QualityBalanced.Budget()
}

// realtime issues a single attempt bounded by timeout.
func (p *HTTPProvider) realtime(ctx context.Context, timeout time.Duration, kind Kind, path string, body []byte, ctype string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := p.do(ctx, kind, path, body, ctype)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// offline retries retryable failures with linear backoff.
func (p *HTTPProvider) offline(ctx context.Context, kind Kind, path string, body []byte, ctype string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.OfflineTimeout)

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				cancel()
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		resp, err := p.do(ctx, kind, path, body, ctype)
		if err == nil {
			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			break
		}
		if errors.Is(err, context.Canceled) {
			break
		}
		p.logger.Warn("request failed, retrying",
			"kind", kind,
			"attempt", attempt+1,
			"error", err,
		)
	}
	cancel()
	return nil, lastErr
}

// do performs one POST and converts non-2xx responses into errors.
func (p *HTTPProvider) do(ctx context.Context, kind Kind, path string, body []byte, ctype string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerHTTP, kind, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", ctype)
	p.authorize(req)

	resp, err := p.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, WrapError(providerHTTP, kind, ctx.Err())
		}
		return nil, WrapError(providerHTTP, kind, fmt.Errorf("%w: %v", ErrInferenceUnavailable, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, p.parseError(resp, kind)
	}
	return resp, nil
}

func (p *HTTPProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// parseError builds an APIError from a failed response.
func (p *HTTPProvider) parseError(resp *http.Response, kind Kind) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Detail != "" {
		msg = er.Detail
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Kind:       kind,
		Provider:   providerHTTP,
	}
}

// cancelBody releases the per-call context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func buildForm(fill func(w *multipart.Writer) error) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := fill(w); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func writeFields(w *multipart.Writer, fields map[string]string) error {
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	return nil
}

// headerMillis parses a float millisecond header, falling back to def.
func headerMillis(h http.Header, key string, def time.Duration) time.Duration {
	v, err := strconv.ParseFloat(h.Get(key), 64)
	if err != nil || v < 0 {
		return def
	}
	return time.Duration(v * float64(time.Millisecond))
}

// Verify HTTPProvider implements Provider at compile time.
var _ Provider = (*HTTPProvider)(nil)
