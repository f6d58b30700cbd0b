package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kbvector/internal/config"
	"kbvector/internal/embed"
	"kbvector/internal/ingest"
	"kbvector/internal/vectorstore"
)

// Server is the HTTP API for the knowledge-base service.
type Server struct {
	router   chi.Router
	ingester *ingest.Service
	embedder *embed.Client
	store    *vectorstore.Store
	log      *slog.Logger
	cfg      config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(ingester *ingest.Service, embedder *embed.Client, store *vectorstore.Store, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		ingester: ingester,
		embedder: embedder,
		store:    store,
		log:      log,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(CORS(s.cfg.AllowedOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Post("/search", s.handleSearch)
	r.Get("/stats", s.handleStats)

	s.router = r
}
