package inference

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
	"strings"
	"time"
)

const defaultInferenceURL = "http://localhost:8000"

// HTTPEngine runs the models on an inference server over HTTP.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an engine for the server at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	if baseURL == "" {
		baseURL = defaultInferenceURL
	}
	return &HTTPEngine{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// tensorRequest carries tensor data as base64 little-endian float32.
type tensorRequest struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
}

// Detect posts the detector input to /v1/detect.
func (e *HTTPEngine) Detect(ctx context.Context, input Tensor) (*DetectorOutput, error) {
	body, err := e.post(ctx, "/v1/detect", input)
	if err != nil {
		return nil, err
	}

	var out DetectorOutput
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

// Embed posts a face crop tensor to /v1/embed.
func (e *HTTPEngine) Embed(ctx context.Context, input Tensor) ([]float32, error) {
	body, err := e.post(ctx, "/v1/embed", input)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Embedding, nil
}

func (e *HTTPEngine) post(ctx context.Context, endpoint string, input Tensor) ([]byte, error) {
	reqBody, err := json.Marshal(tensorRequest{
		Name:  input.Name,
		Shape: input.Shape,
		Data:  EncodeTensorData(input.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// EncodeTensorData packs float32 values little-endian and base64-encodes them.
func EncodeTensorData(data []float32) string {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeTensorData reverses EncodeTensorData.
func DecodeTensorData(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode tensor data: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor data length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
