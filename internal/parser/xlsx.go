package parser

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"kbvector/internal/doctree"
)

// XLSXParser handles Excel workbooks via excelize. Each sheet name becomes
// a title run so sheets map onto sections; sheet rows reuse the CSV row
// rendering in batches.
type XLSXParser struct{}

func (p *XLSXParser) Parse(r io.Reader, filename string) ([]doctree.Run, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var runs []doctree.Run
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		runs = append(runs, doctree.Run{Text: sheet, Size: TitleRunSize})

		headers := rows[0]
		dataRows := rows[1:]
		if len(dataRows) == 0 {
			// Header-only sheet: keep the header line as content.
			runs = append(runs, doctree.Run{
				Text: renderRows(headers, nil),
				Size: BodyRunSize,
			})
			continue
		}
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
	}

	return runs, nil
}
