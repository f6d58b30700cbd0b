package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kbvector/internal/doctree"
)

// Store owns one named vector collection: its schema, its index, and the
// record lifecycle. Records are append-only; the only correction mechanism
// is dropping and recreating the collection.
type Store struct {
	client *milvusClient
	log    *slog.Logger

	collection    string
	dimension     int
	maxTextLength int
	indexClusters int
	searchProbes  int
	defaultTopK   int
	resetOnInit   bool

	connectRetries int
	connectBackoff time.Duration

	// mu serializes structural operations (drop/create/index/load) against
	// insert and search. Open takes the write lock; Insert and Search share
	// the read lock, so they may run concurrently with each other but never
	// with a reset.
	mu       sync.RWMutex
	state    State
	stateErr error
}

// Options configures the store. Proxy routing is explicit, never read from
// ambient environment variables.
type Options struct {
	URL            string
	Collection     string
	Dimension      int
	MaxTextLength  int
	IndexClusters  int // IVF_FLAT nlist
	SearchProbes   int // nprobe
	DefaultTopK    int
	ResetOnInit    bool
	ConnectRetries int
	ConnectBackoff time.Duration
	Timeout        time.Duration
	ProxyURL       string
	Logger         *slog.Logger
}

func New(opts Options) (*Store, error) {
	if opts.Collection == "" {
		opts.Collection = "documents"
	}
	if opts.Dimension <= 0 {
		opts.Dimension = 768
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = 65535
	}
	if opts.IndexClusters <= 0 {
		opts.IndexClusters = 1024
	}
	if opts.SearchProbes <= 0 {
		opts.SearchProbes = 10
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = 3
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := newMilvusClient(opts.URL, opts.ProxyURL, opts.Timeout)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:         client,
		log:            opts.Logger,
		collection:     opts.Collection,
		dimension:      opts.Dimension,
		maxTextLength:  opts.MaxTextLength,
		indexClusters:  opts.IndexClusters,
		searchProbes:   opts.SearchProbes,
		defaultTopK:    opts.DefaultTopK,
		resetOnInit:    opts.ResetOnInit,
		connectRetries: opts.ConnectRetries,
		connectBackoff: opts.ConnectBackoff,
		state:          StateUninitialized,
	}, nil
}

// Open connects with bounded retry, then prepares the collection: drop if
// it exists and ResetOnInit is set, create schema and IVF_FLAT/L2 index if
// missing, and load it into a query-ready state. Open must complete before
// Insert or Search accept traffic; a failure leaves the store in
// StateFailed with the cause retained for health reporting.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.connectRetries; attempt++ {
		lastErr = s.client.ping(ctx)
		if lastErr == nil {
			break
		}
		s.log.Warn("vector store connect failed",
			"attempt", attempt,
			"max_attempts", s.connectRetries,
			"error", lastErr,
		)
		if attempt == s.connectRetries {
			err := &UnavailableError{Attempts: s.connectRetries, Cause: lastErr}
			s.setStateLocked(StateFailed, err)
			return err
		}
		select {
		case <-time.After(s.connectBackoff):
		case <-ctx.Done():
			err := &UnavailableError{Attempts: attempt, Cause: ctx.Err()}
			s.setStateLocked(StateFailed, err)
			return err
		}
	}

	if err := s.prepareCollection(ctx); err != nil {
		s.setStateLocked(StateFailed, err)
		return err
	}

	s.setStateLocked(StateReady, nil)
	s.log.Info("vector store ready",
		"collection", s.collection,
		"dimension", s.dimension,
		"reset_on_init", s.resetOnInit,
	)
	return nil
}

func (s *Store) prepareCollection(ctx context.Context) error {
	exists, err := s.client.hasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if exists && s.resetOnInit {
		// Destructive reset: all prior records are discarded.
		if err := s.client.dropCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		s.log.Info("dropped existing collection", "collection", s.collection)
		exists = false
	}

	if !exists {
		if err := s.client.createCollection(ctx, s.collection, s.dimension, s.maxTextLength); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		if err := s.client.createIndex(ctx, s.collection, s.indexClusters); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		s.log.Info("created collection", "collection", s.collection, "nlist", s.indexClusters)
	}

	if err := s.client.loadCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *Store) setStateLocked(state State, err error) {
	s.state = state
	s.stateErr = err
}

// State reports readiness and, in the failed state, the cause.
func (s *Store) State() (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.stateErr
}

// Insert persists chunks with their vectors as new records and flushes
// before returning, so a successful return means the records are
// searchable. A mid-batch backend failure fails the whole call; the
// backend decides what partial state remains (at-least-once semantics).
func (s *Store) Insert(ctx context.Context, chunks []doctree.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, &ShapeMismatchError{Chunks: len(chunks), Vectors: len(vectors)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return 0, ErrNotReady
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	rows := make([]row, len(chunks))
	for i, chunk := range chunks {
		text := chunk.Text
		if len(text) > s.maxTextLength {
			text = text[:s.maxTextLength]
		}
		rows[i] = row{
			Text:      text,
			Embedding: vectors[i],
			Metadata:  chunk.Metadata,
		}
	}

	count, err := s.client.insert(ctx, s.collection, rows)
	if err != nil {
		return 0, fmt.Errorf("insert records: %w", err)
	}
	if err := s.client.flush(ctx, s.collection); err != nil {
		return 0, fmt.Errorf("flush collection: %w", err)
	}
	return count, nil
}

// Result is one ranked search hit. Score is the raw L2 distance reported
// by the index: smaller is closer, and it is not bounded to [0,1], so it
// is not a similarity.
type Result struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Search runs an approximate nearest-neighbor query and returns results
// ordered by increasing distance. An empty collection yields an empty
// slice, not an error.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = s.defaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return nil, ErrNotReady
	}

	hits, err := s.client.search(ctx, s.collection, vector, k, s.searchProbes)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Text:     h.Text,
			Metadata: h.Metadata,
			Score:    h.Distance,
		})
	}
	return results, nil
}

// Collection returns the live collection name.
func (s *Store) Collection() string { return s.collection }

// Close releases client resources.
func (s *Store) Close() {
	s.client.Close()
}
