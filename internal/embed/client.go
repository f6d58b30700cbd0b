package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client calls an Ollama-style embeddings endpoint and normalizes every
// returned vector to a fixed dimension.
type Client struct {
	url         string
	model       string
	dimension   int
	concurrency int
	httpClient  *http.Client
	log         *slog.Logger

	// Stats aggregates per-request latency for the /stats endpoint.
	Stats *Stats
}

// Options configures the embedding client. Proxy routing is explicit here
// rather than read from ambient environment variables.
type Options struct {
	URL         string
	Model       string
	Dimension   int
	Concurrency int
	Timeout     time.Duration
	ProxyURL    string
	Logger      *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.Dimension <= 0 {
		opts.Dimension = 768
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := http.DefaultTransport
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(proxy)
		transport = t
	}

	return &Client{
		url:         opts.URL,
		model:       opts.Model,
		dimension:   opts.Dimension,
		concurrency: opts.Concurrency,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		log:   opts.Logger,
		Stats: NewStats(time.Hour),
	}, nil
}

// Model returns the configured embedding model name.
func (c *Client) Model() string { return c.model }

// Dimension returns the fixed vector dimension every result is repaired to.
func (c *Client) Dimension() int { return c.dimension }

// ProviderError wraps any transport or protocol failure from the
// embedding endpoint.
type ProviderError struct {
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed maps texts to vectors, one request per text, with bounded
// concurrency. Order is preserved: result[i] corresponds to texts[i]. The
// first failing request cancels its in-flight siblings and fails the whole
// call with a *ProviderError; no partial results are returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			v, err := c.embedOne(gctx, text)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &ProviderError{Cause: err}
	}
	return vectors, nil
}

// EmbedOne embeds a single text, typically a query.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := c.embedOne(ctx, text)
	if err != nil {
		return nil, &ProviderError{Cause: err}
	}
	return v, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()
	c.Stats.Record(time.Since(start).Milliseconds())

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp embedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("embeddings error: %s", apiResp.Error)
	}
	if len(apiResp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	return c.repair(apiResp.Embedding), nil
}

// repair forces a vector to the configured dimension: longer vectors are
// truncated, shorter ones zero-padded. The mismatch is logged at warning
// level so a misconfigured model is detectable, but never fails the call.
func (c *Client) repair(v []float32) []float32 {
	if len(v) == c.dimension {
		return v
	}
	c.log.Warn("embedding dimension mismatch, repairing",
		"model", c.model,
		"expected", c.dimension,
		"got", len(v),
	)
	if len(v) > c.dimension {
		return v[:c.dimension]
	}
	out := make([]float32, c.dimension)
	copy(out, v)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
