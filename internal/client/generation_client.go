package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/config"
)

// GenerationClient talks to the text-to-audio inference service that hosts
// the generation model.
type GenerationClient struct {
	httpClient *http.Client
	baseURL    string
}

// LoadRequest asks the service to load a model into memory
type LoadRequest struct {
	Model string `json:"model"`
}

// LoadResponse reports the loaded model
type LoadResponse struct {
	Model      string `json:"model"`
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
}

// GenerateRequest is one generation call against a loaded model
type GenerateRequest struct {
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	MaxNewTokens  int     `json:"max_new_tokens"`
	GuidanceScale float64 `json:"guidance_scale"`
}

// GenerateResponse carries mono samples in [-1, 1] at the model's native rate
type GenerateResponse struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

// NewGenerationClient creates a new inference service client
func NewGenerationClient(cfg *config.GenerationConfig) *GenerationClient {
	return &GenerationClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Load loads the named model on the service
func (c *GenerationClient) Load(ctx context.Context, req *LoadRequest) (*LoadResponse, error) {
	var result LoadResponse
	if err := c.post(ctx, "/load", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Generate produces a waveform for a prompt
func (c *GenerationClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var result GenerateResponse
	if err := c.post(ctx, "/generate", req, &result); err != nil {
		return nil, err
	}
	if result.SampleRate <= 0 {
		return nil, errors.New("generation service returned no sample rate")
	}
	return &result, nil
}

// HealthCheck checks if the inference service is available
func (c *GenerationClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "health check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("generation service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *GenerationClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("generation service error (status %d): %s", resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GenerationClient) IsConfigured() bool {
	return c.baseURL != ""
}
