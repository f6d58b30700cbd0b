package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Embedding provider (Ollama-compatible endpoint)
	EmbedURL         string
	EmbedModel       string
	EmbedDimension   int
	EmbedConcurrency int
	EmbedTimeout     time.Duration

	// Vector backend
	MilvusURL       string
	Collection      string
	ResetOnInit     bool
	ConnectRetries  int
	ConnectBackoff  time.Duration
	IndexClusters   int // IVF_FLAT nlist
	SearchProbes    int // nprobe
	DefaultTopK     int
	MaxTextLength   int

	// Outbound HTTP
	ProxyURL string

	// Chunking
	TitleThreshold float64

	// PDF
	PDFFallbackPdftotext bool

	// Upload limits
	MaxUploadBytes int64

	// CORS
	AllowedOrigins []string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "9081"),

		EmbedURL:         envOr("EMBED_URL", "http://localhost:11434/api/embeddings"),
		EmbedModel:       envOr("EMBED_MODEL", "bge-m3"),
		EmbedDimension:   envInt("EMBED_DIMENSION", 768),
		EmbedConcurrency: envInt("EMBED_CONCURRENCY", 4),
		EmbedTimeout:     envDuration("EMBED_TIMEOUT", 60*time.Second),

		MilvusURL:      envOr("MILVUS_URL", "http://localhost:19530"),
		Collection:     envOr("COLLECTION", "documents"),
		ResetOnInit:    envBool("RESET_ON_INIT", true),
		ConnectRetries: envInt("CONNECT_RETRIES", 3),
		ConnectBackoff: envDuration("CONNECT_BACKOFF", 5*time.Second),
		IndexClusters:  envInt("INDEX_CLUSTERS", 1024),
		SearchProbes:   envInt("SEARCH_PROBES", 10),
		DefaultTopK:    envInt("DEFAULT_TOP_K", 5),
		MaxTextLength:  envInt("MAX_TEXT_LENGTH", 65535),

		ProxyURL: os.Getenv("OUTBOUND_PROXY_URL"),

		TitleThreshold: envFloat("TITLE_THRESHOLD", 20),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{
			"http://localhost:8501",
			"http://127.0.0.1:8501",
		}),
	}

	if cfg.EmbedDimension <= 0 {
		cfg.EmbedDimension = 768
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.IndexClusters <= 0 {
		cfg.IndexClusters = 1024
	}
	if cfg.SearchProbes <= 0 {
		cfg.SearchProbes = 10
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 65535
	}
	if cfg.TitleThreshold <= 0 {
		cfg.TitleThreshold = 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}

	return cfg
}

func (c Config) Validate() error {
	if c.EmbedURL == "" {
		return fmt.Errorf("EMBED_URL is required")
	}
	if c.EmbedModel == "" {
		return fmt.Errorf("EMBED_MODEL is required")
	}
	if c.MilvusURL == "" {
		return fmt.Errorf("MILVUS_URL is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("COLLECTION is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
