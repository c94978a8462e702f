package fetch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"unicode/utf8"

	"sheet-ingest/internal/logging"
)

// csvParser reads delimited text with a single header row.
type csvParser struct {
	delimiter   rune
	commentChar rune // 0 disables comments
}

func newCSVParser(delimiter, commentChar string) (*csvParser, error) {
	p := &csvParser{delimiter: ','}
	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		p.delimiter, _ = utf8.DecodeRuneInString(delimiter)
	}
	if commentChar != "" {
		if utf8.RuneCountInString(commentChar) != 1 {
			return nil, fmt.Errorf("invalid comment character '%s': must be a single character or empty", commentChar)
		}
		p.commentChar, _ = utf8.DecodeRuneInString(commentChar)
	}
	return p, nil
}

func (p *csvParser) format() string { return "csv" }

func (p *csvParser) parse(data []byte) ([]string, [][]string, error) {
	if err := checkUTF8(data); err != nil {
		return nil, nil, err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = p.delimiter
	reader.Comment = p.commentChar
	// Width is checked against the header when the dataset is built.
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, nil, fmt.Errorf("parse error on line %d, column %d: %w", parseErr.Line, parseErr.Column, parseErr.Err)
		}
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("resource is empty, a header row is required")
	}
	if len(rows) == 1 {
		logging.Logf(logging.Warning, "CSV resource contains only a header row")
	}
	return rows[0], rows[1:], nil
}
