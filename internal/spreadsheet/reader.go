// Package spreadsheet reads employee workbooks into raw rows and writes
// error reports and blank templates. Workbooks are handled with excelize;
// CSV exports are accepted as a fallback.
package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

// DefaultMaxFileSize caps uploads at 20MB.
const DefaultMaxFileSize int64 = 20 << 20

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrHeaderNotFound  = errors.New("header row not found")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sheet is the parsed content of the first worksheet.
type Sheet struct {
	Headers []string
	Rows    []core.RawRow
}

// Read parses the upload named name from r. The format is chosen by extension.
// maxSize <= 0 applies DefaultMaxFileSize.
func Read(r io.Reader, name string, maxSize int64) (Sheet, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return Sheet{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return Sheet{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxSize)
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		rows, err = workbookRows(data)
	case ".csv":
		rows, err = csvRows(data)
	default:
		return Sheet{}, fmt.Errorf("%w: %q (expected .xlsx or .csv)", ErrUnsupportedType, filepath.Ext(name))
	}
	if err != nil {
		return Sheet{}, err
	}
	return fromRows(rows)
}

// workbookRows returns the cells of the first sheet. Raw values are kept so
// date cells arrive as serial numbers rather than locale-formatted text.
func workbookRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("open workbook: no sheets found")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// csvRows decodes a CSV export. A UTF-8 BOM is dropped, non-UTF-8 input is
// read as Windows-1251, and the delimiter is sniffed from the first line.
func csvRows(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = charmap.Windows1251.NewDecoder().Reader(src)
	}

	br := bufio.NewReader(src)
	r := csv.NewReader(br)
	r.Comma = sniffDelimiter(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

// sniffDelimiter picks ';' or ',' by counting them in the first line.
// Spreadsheet programs in Russian locales export with ';'.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		peek = peek[:i]
	}
	if bytes.Count(peek, []byte{';'}) > bytes.Count(peek, []byte{','}) {
		return ';'
	}
	return ','
}

// fromRows takes the first non-empty row as the header and pairs every
// following non-empty row with it. Row indexes are 1-based sheet positions.
func fromRows(rows [][]string) (Sheet, error) {
	headerAt := -1
	for i, row := range rows {
		if !blank(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return Sheet{}, ErrHeaderNotFound
	}

	headers := make([]string, len(rows[headerAt]))
	for i, h := range rows[headerAt] {
		headers[i] = core.CleanCell(h)
	}

	var out []core.RawRow
	for i := headerAt + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		cells := make([]core.RawCell, len(row))
		for j, v := range row {
			var h string
			if j < len(headers) {
				h = headers[j]
			}
			cells[j] = core.RawCell{Header: h, Value: v}
		}
		out = append(out, core.RawRow{Index: i + 1, Cells: cells})
	}

	return Sheet{Headers: headers, Rows: out}, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
