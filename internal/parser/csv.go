package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"kbvector/internal/doctree"
)

// CSVParser handles CSV files. Rows are rendered as "header: value" lines
// and grouped into batches so each run stays a manageable size. CSV has no
// structural emphasis, so all runs are body-sized.
type CSVParser struct{}

const csvBatchSize = 20

func (p *CSVParser) Parse(r io.Reader, filename string) ([]doctree.Run, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// First row is headers.
	headers := records[0]
	dataRows := records[1:]

	var runs []doctree.Run
	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := i + csvBatchSize
		if end > len(dataRows) {
			end = len(dataRows)
		}
		runs = append(runs, doctree.Run{
			Text: renderRows(headers, dataRows[i:end]),
			Size: BodyRunSize,
		})
	}

	return runs, nil
}

func renderRows(headers []string, rows [][]string) string {
	var text strings.Builder
	text.WriteString("Headers: " + strings.Join(headers, ", ") + "\n\n")
	for _, row := range rows {
		for j, cell := range row {
			if j < len(headers) {
				text.WriteString(headers[j] + ": " + cell)
			} else {
				text.WriteString(cell)
			}
			if j < len(row)-1 {
				text.WriteString(", ")
			}
		}
		text.WriteString("\n")
	}
	return text.String()
}
