package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTP reranker defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerModel    = "reranker-small"
	DefaultRerankerTimeout  = 30 * time.Second
)

// HTTPRerankerConfig configures the HTTP reranker client.
type HTTPRerankerConfig struct {
	// Endpoint is the reranker server URL.
	Endpoint string

	// Model is the reranker model alias.
	Model string

	// Timeout bounds each rerank request.
	Timeout time.Duration

	// SkipHealthCheck skips the health check during creation (for testing).
	SkipHealthCheck bool
}

// HTTPReranker scores query-document pairs via an external cross-encoder
// service exposing a /rerank endpoint.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time.
var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client and verifies the service is
// reachable unless the health check is skipped.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRerankerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("reranker health check failed: %w", err)
		}
	}
	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to reranker server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reranker server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// rerankRequest is the JSON request to /rerank.
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

// rerankResponse is the JSON response from /rerank.
type rerankResponse struct {
	Results []struct {
		Index    int     `json:"index"`
		Score    float64 `json:"score"`
		Document string  `json:"document"`
	} `json:"results"`
	Model string `json:"model"`
	Count int    `json:"count"`
}

// Rerank sends the candidate contents to the reranker and maps the returned
// ordering back to chunk IDs by response index.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []*Candidate, topK int) ([]RerankedDoc, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return []RerankedDoc{}, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	reqBody := rerankRequest{Query: query, Documents: documents, Model: r.config.Model}
	if topK > 0 {
		reqBody.TopK = topK
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	docs := make([]RerankedDoc, 0, len(result.Results))
	for _, entry := range result.Results {
		if entry.Index < 0 || entry.Index >= len(candidates) {
			continue
		}
		c := candidates[entry.Index]
		docs = append(docs, RerankedDoc{
			ChunkID:   c.ChunkID,
			Score:     entry.Score,
			FilePath:  c.FilePath,
			Content:   c.Content,
			Language:  c.Language,
			Kind:      c.Kind,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		})
	}
	return docs, nil
}

// Enabled reports whether the reranker service responds to a health check.
func (r *HTTPReranker) Enabled(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
