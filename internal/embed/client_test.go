package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeProvider returns a vector derived from the prompt so tests can check
// order preservation. dim controls the returned vector length.
func fakeProvider(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(len(req.Prompt))
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: v})
	}))
}

func newTestClient(t *testing.T, url string, dim, concurrency int) *Client {
	t.Helper()
	c, err := NewClient(Options{
		URL:         url,
		Model:       "test-model",
		Dimension:   dim,
		Concurrency: concurrency,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEmbed_OrderPreservedUnderConcurrency(t *testing.T) {
	srv := fakeProvider(t, 768)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 768, 8)
	defer c.Close()

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vectors, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vector[%d]: expected marker %d, got %v", i, len(text), vectors[i][0])
		}
	}
}

func TestEmbed_DimensionRepair(t *testing.T) {
	tests := []struct {
		name        string
		providerDim int
	}{
		{"exact", 768},
		{"truncated", 800},
		{"padded", 700},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeProvider(t, tt.providerDim)
			defer srv.Close()

			c := newTestClient(t, srv.URL, 768, 1)
			defer c.Close()

			vectors, err := c.Embed(context.Background(), []string{"hello"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			v := vectors[0]
			if len(v) != 768 {
				t.Fatalf("expected dimension 768, got %d", len(v))
			}
			switch {
			case tt.providerDim >= 768:
				// All components carry the provider's marker value.
				if v[767] != float32(len("hello")) {
					t.Errorf("expected last component %d, got %v", len("hello"), v[767])
				}
			default:
				// Tail must be zero-padded.
				if v[tt.providerDim] != 0 || v[767] != 0 {
					t.Errorf("expected zero padding past %d, got %v / %v", tt.providerDim, v[tt.providerDim], v[767])
				}
				if v[tt.providerDim-1] != float32(len("hello")) {
					t.Errorf("expected marker before pad, got %v", v[tt.providerDim-1])
				}
			}
		})
	}
}

func TestEmbed_ProviderFailureFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Prompt, "poison") {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: make([]float32, 768)})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 768, 2)
	defer c.Close()

	_, err := c.Embed(context.Background(), []string{"ok", "poison", "ok"})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
}

func TestEmbedOne_Query(t *testing.T) {
	srv := fakeProvider(t, 768)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 768, 1)
	defer c.Close()

	v, err := c.EmbedOne(context.Background(), "query text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 768 {
		t.Errorf("expected dimension 768, got %d", len(v))
	}
	if snap := c.Stats.Snapshot(); snap.Count != 1 {
		t.Errorf("expected 1 latency sample, got %d", snap.Count)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	srv := fakeProvider(t, 768)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 768, 4)
	defer c.Close()

	vectors, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("expected 0 vectors, got %d", len(vectors))
	}
}

func TestNewClient_BadProxyURL(t *testing.T) {
	_, err := NewClient(Options{
		URL:      "http://localhost:11434/api/embeddings",
		Model:    "m",
		ProxyURL: "://not-a-url",
	})
	if err == nil {
		t.Fatal("expected error for malformed proxy url")
	}
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats(time.Hour)
	for i := 1; i <= 10; i++ {
		s.Record(int64(i * 10))
	}
	snap := s.Snapshot()
	if snap.Count != 10 {
		t.Errorf("expected count 10, got %d", snap.Count)
	}
	if snap.MinMs != 10 || snap.MaxMs != 100 {
		t.Errorf("expected min/max 10/100, got %d/%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 55 {
		t.Errorf("expected avg 55, got %v", snap.AvgMs)
	}
}

func TestStats_EmptySnapshot(t *testing.T) {
	s := NewStats(time.Hour)
	if snap := s.Snapshot(); snap.Count != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}
