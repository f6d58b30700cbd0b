package parser

import (
	"bufio"
	"io"
	"strings"

	"kbvector/internal/doctree"
)

// TextParser handles plain text files. Plain text carries no emphasis
// signal, so every paragraph becomes a body run and the whole document
// lands in a single untitled section.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) ([]doctree.Run, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var runs []doctree.Run
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			runs = append(runs, doctree.Run{Text: current.String(), Size: BodyRunSize})
			current.Reset()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}
