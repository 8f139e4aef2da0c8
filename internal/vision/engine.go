package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/connergroth/EcoVision/internal/logger"
)

// Engine runs the detection model: tensor in, raw head output out
type Engine interface {
	Infer(ctx context.Context, input Tensor) (*RawOutput, error)
}

// EngineConfig contains configuration for the HTTP inference engine
type EngineConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// HTTPEngine calls an inference service over HTTP. Tensors travel as
// base64-encoded little-endian float32 arrays.
type HTTPEngine struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

type inferenceRequest struct {
	Shape  []int  `json:"shape"`
	Tensor string `json:"tensor"`
}

type inferenceResponse struct {
	Distances       string  `json:"distances"`
	Logits          string  `json:"logits"`
	NumAnchors      int     `json:"num_anchors"`
	NumClasses      int     `json:"num_classes"`
	RegMax          int     `json:"reg_max"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// NewHTTPEngine creates a new inference service client
func NewHTTPEngine(cfg EngineConfig, log *logger.Logger) *HTTPEngine {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPEngine{
		serviceURL: cfg.ServiceURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// Infer sends one tensor to the inference service
func (e *HTTPEngine) Infer(ctx context.Context, input Tensor) (*RawOutput, error) {
	jsonData, err := json.Marshal(inferenceRequest{
		Shape:  input.Shape,
		Tensor: EncodeFloats(input.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference/raw", e.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	e.logger.Debug("Sending inference request", "url", url, "shape", input.Shape)
	startTime := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("Inference service returned error", "status", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var ir inferenceResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, &DecodeError{Op: "inference", Reason: "malformed response", Err: err}
	}

	distances, err := DecodeFloats(ir.Distances)
	if err != nil {
		return nil, &DecodeError{Op: "inference", Reason: "malformed distances", Err: err}
	}
	logits, err := DecodeFloats(ir.Logits)
	if err != nil {
		return nil, &DecodeError{Op: "inference", Reason: "malformed logits", Err: err}
	}

	e.logger.Debug("Inference completed",
		"anchors", ir.NumAnchors,
		"classes", ir.NumClasses,
		"inference_time_ms", ir.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &RawOutput{
		Distances:  distances,
		Logits:     logits,
		NumAnchors: ir.NumAnchors,
		NumClasses: ir.NumClasses,
		RegMax:     ir.RegMax,
	}, nil
}

// HealthCheck checks if the inference service is ready
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", e.serviceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service not ready: status %d", resp.StatusCode)
	}
	return nil
}

// EncodeFloats packs float32 values little-endian and base64 encodes them
func EncodeFloats(values []float32) string {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeFloats reverses EncodeFloats
func DecodeFloats(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return values, nil
}
