package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"kbvector/internal/doctree"
)

// Emphasis sizes synthesized by parsers for formats that carry explicit
// structure instead of font sizes. TitleRunSize must exceed the default
// title threshold; BodyRunSize must not.
const (
	TitleRunSize = 24
	BodyRunSize  = 12
)

// Parser converts raw document bytes into an ordered run sequence for the
// structural chunker.
type Parser interface {
	Parse(r io.Reader, filename string) ([]doctree.Run, error)
}

// UnsupportedFormatError reports a file extension nothing can extract.
type UnsupportedFormatError struct {
	Filename  string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file extension %q (%s)", e.Extension, e.Filename)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".xlsx":     true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".xlsx":
		return &XLSXParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, &UnsupportedFormatError{Filename: filename, Extension: ext}
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}
