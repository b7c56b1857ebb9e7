// Package whisperserver provides an [stt.Engine] that delegates
// transcription to a locally running whisper.cpp server binary, which
// exposes a REST API at POST /inference.
//
// It is the no-cgo alternative to the whisper package: the runner itself
// only encodes each segment as WAV and posts it, while the server owns the
// model and the device it runs on. The server is expected to run on the same
// host, so the runtime stays offline.
//
// Usage:
//
//	eng, err := whisperserver.New("http://127.0.0.1:8080")
//	model, err := eng.Load(ctx, stt.LoadConfig{Language: "en"})
//	tr, err := model.Transcribe(ctx, samples, stt.Options{})
package whisperserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	sampleRate = 16000
)

var (
	_ stt.Engine = (*Engine)(nil)
	_ stt.Model  = (*Model)(nil)
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithHTTPClient overrides the HTTP client. Defaults to a client with a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// Engine connects to a whisper.cpp server.
type Engine struct {
	serverURL  string
	httpClient *http.Client
}

// New creates an Engine for the whisper.cpp server at serverURL
// (e.g., "http://127.0.0.1:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisperserver: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Load checks that the server is reachable. The device is chosen by the
// server, so cfg.Device is only echoed back in transcripts; an unreachable
// server on an accelerated load reports [stt.ErrDeviceUnavailable] so the
// caller's CPU fallback can retry once.
func (e *Engine) Load(ctx context.Context, cfg stt.LoadConfig) (stt.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("whisperserver: create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if cfg.Device == stt.DeviceAccelerated {
			return nil, fmt.Errorf("whisperserver: %w: %v", stt.ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("whisperserver: server unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return &Model{
		serverURL:  e.serverURL,
		httpClient: e.httpClient,
		model:      cfg.ModelID,
		language:   cfg.Language,
		device:     cfg.Device,
	}, nil
}

// Model posts segments to the server's /inference endpoint.
type Model struct {
	serverURL  string
	httpClient *http.Client
	model      string
	language   string
	device     stt.Device

	mu     sync.Mutex
	closed bool
}

// Transcribe encodes samples as a WAV file and submits it for inference.
func (m *Model) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return stt.Transcript{}, stt.ErrModelClosed
	}

	lang := opts.Language
	if lang == "" {
		lang = m.language
	}

	start := time.Now()
	text, err := m.infer(ctx, float32ToPCM(samples), lang)
	if err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, err
	}
	return stt.Transcript{
		Text:     stt.JoinSegments([]string{text}),
		Language: lang,
		Duration: time.Duration(len(samples)) * time.Second / sampleRate,
		Elapsed:  time.Since(start),
		Device:   m.device,
	}, nil
}

// Close marks the model closed. The server keeps running.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. It returns the transcribed text or an error.
func (m *Model) infer(ctx context.Context, pcm []byte, language string) (string, error) {
	wav := encodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisperserver: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisperserver: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0",
	}
	if language != "" {
		fields["language"] = language
	}
	if m.model != "" {
		fields["model"] = m.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisperserver: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisperserver: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisperserver: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisperserver: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisperserver: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisperserver: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// ---- helpers ----------------------------------------------------------------

func float32ToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container suitable for direct inclusion in a multipart upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
