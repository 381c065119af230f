// Package embedder turns chunk texts into vectors through an external
// embedding provider, batching and rate-limiting the calls and falling
// back to one-at-a-time embedding when a whole batch keeps failing.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// providerMaxErrorBody bounds how much provider error text is kept so
// rate-limit tokens stay visible to the classifier.
const providerMaxErrorBody = 2048

// Provider is the embedding service contract: one vector per input
// text, in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPConfig configures the hosted embedding provider client.
type HTTPConfig struct {
	// BaseURL is the provider root; the client posts to BaseURL+"/embeddings".
	BaseURL string

	// APIKey is sent as a bearer token. Optional.
	APIKey string

	// Model names the embedding model.
	Model string

	// HTTPClient overrides the default client. Nil uses a 60s-timeout client.
	HTTPClient *http.Client
}

// HTTPProvider calls an OpenAI-compatible embeddings endpoint.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider creates a hosted provider client.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &HTTPProvider{cfg: cfg, client: client}
}

var _ Provider = (*HTTPProvider)(nil)

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Provider. Provider error bodies are carried in the
// returned error text so categorizable messages ("rate limit", "429",
// "quota") reach the classifier.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Input: texts, Model: p.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("embed: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, providerMaxErrorBody))

		return nil, fmt.Errorf("embed: status %d: %s", resp.StatusCode, detail)
	}

	var decoded embedResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
	if decodeErr != nil {
		return nil, fmt.Errorf("embed: decode response: %w", decodeErr)
	}

	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(decoded.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embed: vector index %d out of range", item.Index)
		}

		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}
