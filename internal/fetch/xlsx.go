package fetch

import (
	"bytes"
	"fmt"

	"sheet-ingest/internal/logging"

	"github.com/xuri/excelize/v2"
)

// xlsxParser reads one worksheet of an Excel workbook. The first row is the header.
type xlsxParser struct {
	sheetName  string
	sheetIndex *int
}

func newXLSXParser(sheetName string, sheetIndex *int) *xlsxParser {
	return &xlsxParser{sheetName: sheetName, sheetIndex: sheetIndex}
}

func (p *xlsxParser) format() string { return "xlsx" }

func (p *xlsxParser) parse(data []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Warning, "XLSX parser failed to close workbook: %v", err)
		}
	}()

	sheet, err := p.selectSheet(f)
	if err != nil {
		return nil, nil, err
	}
	// GetRows returns formatted cell values and trims trailing empty cells.
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from sheet '%s': %w", sheet, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, nil, fmt.Errorf("sheet '%s' has no header row", sheet)
	}

	header := rows[0]
	records := make([][]string, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2
		if len(row) == 0 {
			logging.Logf(logging.Debug, "XLSX parser: skipping empty row %d of sheet '%s'", rowNum, sheet)
			continue
		}
		if len(row) > len(header) {
			return nil, nil, fmt.Errorf("sheet '%s' row %d has %d cells, header has %d", sheet, rowNum, len(row), len(header))
		}
		rec := make([]string, len(header))
		copy(rec, row)
		records = append(records, rec)
	}
	logging.Logf(logging.Debug, "XLSX parser read %d data rows from sheet '%s'", len(records), sheet)
	return header, records, nil
}

// selectSheet resolves the configured sheet. A name wins over an index; with
// neither, the first sheet is used.
func (p *xlsxParser) selectSheet(f *excelize.File) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook contains no sheets")
	}
	if p.sheetName != "" {
		for _, name := range sheets {
			if name == p.sheetName {
				return name, nil
			}
		}
		return "", fmt.Errorf("sheet '%s' not found (available: %v)", p.sheetName, sheets)
	}
	if p.sheetIndex != nil {
		idx := *p.sheetIndex
		if idx < 0 || idx >= len(sheets) {
			return "", fmt.Errorf("sheet index %d is out of bounds (0 to %d)", idx, len(sheets)-1)
		}
		return sheets[idx], nil
	}
	return sheets[0], nil
}
