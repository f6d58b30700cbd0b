package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kbvector/internal/chunker"
	"kbvector/internal/doctree"
	"kbvector/internal/embed"
	"kbvector/internal/parser"
	"kbvector/internal/vectorstore"
)

// ErrEmptyContent reports a batch that produced zero non-empty chunks
// after structuring. It is distinct from provider or store failures so the
// boundary can report it as a client problem rather than a server one.
var ErrEmptyContent = errors.New("no text content found in batch")

// File is one uploaded document: raw bytes plus the filename whose
// extension selects the extractor.
type File struct {
	Name string
	Data []byte
}

// FileResult is the per-file outcome inside a batch report.
type FileResult struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes one ingestion batch.
type Report struct {
	BatchID  string       `json:"batch_id"`
	Files    []FileResult `json:"files"`
	Chunks   int          `json:"chunks"`
	Inserted int          `json:"inserted"`
}

// Failed reports whether any file in the batch was rejected.
func (r *Report) Failed() bool {
	for _, f := range r.Files {
		if f.Error != "" {
			return true
		}
	}
	return false
}

// Service runs the ingestion flow for one upload batch: extract runs,
// build and flatten the structural tree, embed the chunks, insert the
// records. It holds no cross-request state; every batch is independent.
type Service struct {
	embedder *embed.Client
	store    *vectorstore.Store
	log      *slog.Logger

	titleThreshold float64
	pdfFallback    bool
}

func NewService(embedder *embed.Client, store *vectorstore.Store, log *slog.Logger, titleThreshold float64, pdfFallback bool) *Service {
	if titleThreshold <= 0 {
		titleThreshold = chunker.DefaultTitleThreshold
	}
	return &Service{
		embedder:       embedder,
		store:          store,
		log:            log,
		titleThreshold: titleThreshold,
		pdfFallback:    pdfFallback,
	}
}

// IngestBatch processes one upload batch. Extraction errors are recovered
// per file: one bad file does not abort the rest. A batch that yields no
// chunks at all fails with ErrEmptyContent alongside the report describing
// each file. Provider and store failures abort the batch and propagate
// with their typed cause; nothing is partially reported as success.
func (s *Service) IngestBatch(ctx context.Context, files []File) (*Report, error) {
	report := &Report{BatchID: newBatchID()}
	log := s.log.With("batch_id", report.BatchID)

	var chunks []doctree.Chunk
	for _, file := range files {
		fileChunks, err := s.extractFile(file)
		if err != nil {
			log.Warn("file rejected", "filename", file.Name, "error", err)
			report.Files = append(report.Files, FileResult{Filename: file.Name, Error: err.Error()})
			continue
		}
		report.Files = append(report.Files, FileResult{Filename: file.Name, Chunks: len(fileChunks)})
		chunks = append(chunks, fileChunks...)
	}

	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		return report, ErrEmptyContent
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	inserted, err := s.store.Insert(ctx, chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("store batch: %w", err)
	}
	report.Inserted = inserted

	log.Info("batch ingested",
		"files", len(files),
		"chunks", report.Chunks,
		"inserted", report.Inserted,
		"rejected", len(report.Files)-acceptedCount(report.Files),
	)
	return report, nil
}

// extractFile turns one document into chunks, or a per-file error.
func (s *Service) extractFile(file File) ([]doctree.Chunk, error) {
	p, err := parser.ForFile(file.Name)
	if err != nil {
		return nil, err
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = s.pdfFallback
	}

	runs, err := p.Parse(bytes.NewReader(file.Data), file.Name)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	return chunker.Chunks(runs, s.titleThreshold), nil
}

func acceptedCount(files []FileResult) int {
	n := 0
	for _, f := range files {
		if f.Error == "" {
			n++
		}
	}
	return n
}
