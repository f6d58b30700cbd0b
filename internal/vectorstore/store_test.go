package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"kbvector/internal/doctree"
)

// fakeMilvus is an in-memory stand-in for the Milvus REST v2 API, enough
// for lifecycle, insert and L2 search.
type fakeMilvus struct {
	mu          sync.Mutex
	collections map[string][]row
	loaded      map[string]bool
	pings       int
	drops       int
	flushes     int
	failPings   bool
}

func newFakeMilvus() *fakeMilvus {
	return &fakeMilvus{
		collections: make(map[string][]row),
		loaded:      make(map[string]bool),
	}
}

func (f *fakeMilvus) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		name, _ := req["collectionName"].(string)

		ok := func(data any) {
			resp := map[string]any{"code": 0}
			if data != nil {
				resp["data"] = data
			}
			json.NewEncoder(w).Encode(resp)
		}

		switch r.URL.Path {
		case "/v2/vectordb/collections/list":
			f.pings++
			if f.failPings {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			ok([]string{})
		case "/v2/vectordb/collections/has":
			_, exists := f.collections[name]
			ok(map[string]bool{"has": exists})
		case "/v2/vectordb/collections/drop":
			f.drops++
			delete(f.collections, name)
			delete(f.loaded, name)
			ok(nil)
		case "/v2/vectordb/collections/create":
			f.collections[name] = nil
			ok(nil)
		case "/v2/vectordb/indexes/create":
			ok(nil)
		case "/v2/vectordb/collections/load":
			f.loaded[name] = true
			ok(nil)
		case "/v2/vectordb/collections/flush":
			f.flushes++
			ok(nil)
		case "/v2/vectordb/entities/insert":
			raw, _ := json.Marshal(req["data"])
			var rows []row
			json.Unmarshal(raw, &rows)
			f.collections[name] = append(f.collections[name], rows...)
			ok(map[string]int{"insertCount": len(rows)})
		case "/v2/vectordb/entities/search":
			raw, _ := json.Marshal(req["data"])
			var queries [][]float32
			json.Unmarshal(raw, &queries)
			limit := 10
			if l, okc := req["limit"].(float64); okc {
				limit = int(l)
			}
			hits := f.searchL2(name, queries[0], limit)
			ok(hits)
		default:
			json.NewEncoder(w).Encode(map[string]any{"code": 1100, "message": "unknown path " + r.URL.Path})
		}
	})
}

func (f *fakeMilvus) searchL2(name string, query []float32, limit int) []hit {
	rows := f.collections[name]
	hits := make([]hit, 0, len(rows))
	for _, rw := range rows {
		var sum float64
		for i := range query {
			if i >= len(rw.Embedding) {
				break
			}
			d := float64(query[i] - rw.Embedding[i])
			sum += d * d
		}
		meta, _ := rw.Metadata.(map[string]any)
		hits = append(hits, hit{
			Distance: math.Sqrt(sum),
			Text:     rw.Text,
			Metadata: meta,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (f *fakeMilvus) recordCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[name])
}

func newTestStore(t *testing.T, url string, reset bool) *Store {
	t.Helper()
	s, err := New(Options{
		URL:            url,
		Collection:     "documents",
		Dimension:      4,
		ResetOnInit:    reset,
		ConnectRetries: 3,
		ConnectBackoff: time.Millisecond,
		Timeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func vec(vals ...float32) []float32 { return vals }

func TestOpen_CreatesAndLoadsCollection(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	state, cause := s.State()
	if state != StateReady || cause != nil {
		t.Fatalf("expected StateReady, got %v (%v)", state, cause)
	}
	if !fake.loaded["documents"] {
		t.Error("expected collection to be loaded")
	}
}

func TestOpen_ResetDropsExistingCollection(t *testing.T) {
	fake := newFakeMilvus()
	fake.collections["documents"] = []row{{Text: "stale"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fake.drops != 1 {
		t.Errorf("expected 1 drop, got %d", fake.drops)
	}
	if fake.recordCount("documents") != 0 {
		t.Errorf("expected empty collection after reset, got %d records", fake.recordCount("documents"))
	}
}

func TestOpen_NoResetKeepsExistingRecords(t *testing.T) {
	fake := newFakeMilvus()
	fake.collections["documents"] = []row{{Text: "keep me", Embedding: vec(1, 0, 0, 0)}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, false)
	defer s.Close()

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fake.drops != 0 {
		t.Errorf("expected no drops, got %d", fake.drops)
	}
	if fake.recordCount("documents") != 1 {
		t.Errorf("expected 1 surviving record, got %d", fake.recordCount("documents"))
	}
}

func TestOpen_RetriesThenUnavailable(t *testing.T) {
	fake := newFakeMilvus()
	fake.failPings = true
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()

	err := s.Open(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnavailableError, got %T: %v", err, err)
	}
	if ue.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", ue.Attempts)
	}
	if fake.pings != 3 {
		t.Errorf("expected exactly 3 pings, got %d", fake.pings)
	}
	state, cause := s.State()
	if state != StateFailed {
		t.Errorf("expected StateFailed, got %v", state)
	}
	if cause == nil {
		t.Error("expected failure cause to be retained")
	}
}

func TestInsert_ShapeMismatch(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunks := []doctree.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	vectors := [][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0)}

	_, err := s.Insert(context.Background(), chunks, vectors)
	var sme *ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("expected ShapeMismatchError, got %T: %v", err, err)
	}
	if sme.Chunks != 3 || sme.Vectors != 2 {
		t.Errorf("expected 3/2, got %d/%d", sme.Chunks, sme.Vectors)
	}
	if fake.recordCount("documents") != 0 {
		t.Errorf("record count changed after shape mismatch: %d", fake.recordCount("documents"))
	}
}

func TestInsertThenSearch_RoundTrip(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunks := []doctree.Chunk{
		{Text: "the distinctive needle", Metadata: doctree.Metadata{Path: "Chapter 1", Level: 1}},
		{Text: "unrelated haystack", Metadata: doctree.Metadata{Path: "Chapter 2", Level: 1}},
	}
	vectors := [][]float32{vec(1, 0, 0, 0), vec(0, 0, 0, 1)}

	count, err := s.Insert(context.Background(), chunks, vectors)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if count != 2 {
		t.Errorf("expected insert count 2, got %d", count)
	}
	if fake.flushes != 1 {
		t.Errorf("expected 1 flush, got %d", fake.flushes)
	}

	results, err := s.Search(context.Background(), vec(1, 0, 0, 0), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "the distinctive needle" {
		t.Errorf("expected needle at rank 0, got %q", results[0].Text)
	}
	if results[0].Score > 1e-6 {
		t.Errorf("expected near-zero distance for exact match, got %v", results[0].Score)
	}
	if results[1].Score < results[0].Score {
		t.Error("results not ordered by increasing distance")
	}
	if path, _ := results[0].Metadata["path"].(string); path != "Chapter 1" {
		t.Errorf("expected metadata path %q, got %q", "Chapter 1", path)
	}
}

func TestSearch_EmptyCollection(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	results, err := s.Search(context.Background(), vec(1, 0, 0, 0), 5)
	if err != nil {
		t.Fatalf("expected no error on empty collection, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestSearch_DefaultTopK(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var chunks []doctree.Chunk
	var vectors [][]float32
	for i := 0; i < 8; i++ {
		chunks = append(chunks, doctree.Chunk{Text: "row"})
		vectors = append(vectors, vec(float32(i), 0, 0, 0))
	}
	if _, err := s.Insert(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// k <= 0 falls back to the configured default (5).
	results, err := s.Search(context.Background(), vec(0, 0, 0, 0), 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("expected default top-5, got %d", len(results))
	}
}

func TestInsertAndSearch_BeforeOpen(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStore(t, srv.URL, true)
	defer s.Close()

	if _, err := s.Insert(context.Background(), nil, nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Insert before Open: expected ErrNotReady, got %v", err)
	}
	if _, err := s.Search(context.Background(), vec(1, 0, 0, 0), 5); !errors.Is(err, ErrNotReady) {
		t.Errorf("Search before Open: expected ErrNotReady, got %v", err)
	}
}

func TestInsert_TruncatesOversizedText(t *testing.T) {
	fake := newFakeMilvus()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, err := New(Options{
		URL:            srv.URL,
		Dimension:      4,
		MaxTextLength:  10,
		ResetOnInit:    true,
		ConnectRetries: 1,
		ConnectBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunks := []doctree.Chunk{{Text: "this text is far longer than ten bytes"}}
	if _, err := s.Insert(context.Background(), chunks, [][]float32{vec(1, 0, 0, 0)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	fake.mu.Lock()
	stored := fake.collections["documents"][0].Text
	fake.mu.Unlock()
	if len(stored) != 10 {
		t.Errorf("expected stored text truncated to 10 bytes, got %d", len(stored))
	}
}
