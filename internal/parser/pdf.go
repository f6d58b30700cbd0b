package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"kbvector/internal/doctree"
)

// PDFParser handles PDF files. It reads positioned text with real font
// sizes, so PDF is the one format whose emphasis signal is native rather
// than synthesized. If the Go library cannot read the file it can fall
// back to pdftotext, which loses sizes and yields body-only runs.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) ([]doctree.Run, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "kbvector-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	runs, err := extractPDFRuns(tmpPath)
	if err != nil && p.FallbackPdftotext {
		runs, err = extractPdftotextRuns(tmpPath)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	return runs, nil
}

// extractPDFRuns walks every page's positioned text and groups consecutive
// fragments sharing a font size into runs, mirroring span iteration.
func extractPDFRuns(path string) ([]doctree.Run, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var runs []doctree.Run
	var current strings.Builder
	currentSize := 0.0
	lastY := 0.0

	flush := func() {
		if current.Len() > 0 {
			runs = append(runs, doctree.Run{Text: current.String(), Size: currentSize})
			current.Reset()
		}
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		for _, t := range content.Text {
			if t.S == "" {
				continue
			}
			if current.Len() > 0 && t.FontSize != currentSize {
				flush()
			}
			if current.Len() > 0 {
				if t.Y != lastY {
					current.WriteString("\n")
				}
			}
			current.WriteString(t.S)
			currentSize = t.FontSize
			lastY = t.Y
		}
		flush() // Runs never span pages.
	}

	return runs, nil
}

// extractPdftotextRuns shells out to pdftotext. Font sizes are lost, so
// the output is paragraph-split into body runs.
func extractPdftotextRuns(path string) ([]doctree.Run, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}

	var runs []doctree.Run
	for _, para := range strings.Split(string(out), "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			runs = append(runs, doctree.Run{Text: para, Size: BodyRunSize})
		}
	}
	return runs, nil
}
