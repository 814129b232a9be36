package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Format is the container format of an uploaded file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

var formatByExtension = map[string]Format{
	".csv":  FormatCSV,
	".xlsx": FormatXLSX,
	".xls":  FormatXLS,
}

var formatByContentType = map[string]Format{
	"text/csv":                 FormatCSV,
	"application/csv":          FormatCSV,
	"application/vnd.ms-excel": FormatXLS,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FormatXLSX,
}

// DetectFormat decides the format by extension. The declared content type is consulted
// only for files without one; any other extension is rejected.
func DetectFormat(filename, contentType string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := formatByExtension[ext]; ok {
		return f, nil
	}
	if ext != "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filename)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		if f, ok := formatByContentType[strings.ToLower(mediaType)]; ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filename)
}

// Table is a parsed file: the header row and the data rows keyed by it.
type Table struct {
	Headers []string
	Rows    []Row
}

// ReadTable parses r in the given format. maxRows <= 0 disables the row cap.
func ReadTable(r io.Reader, format Format, maxRows int) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatXLSX, FormatXLS:
		records, err = readWorkbook(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return tableFromRecords(records, maxRows)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		// Spreadsheet tools on zh-CN systems save CSV as GBK; GB18030 is a superset.
		decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode csv: %w", err)
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on the first line.
func sniffDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	best, bestCount := ',', strings.Count(line, ",")
	for _, candidate := range []rune{';', '\t'} {
		if n := strings.Count(line, string(candidate)); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

func readWorkbook(r io.Reader) ([][]string, error) {
	// Raw values keep dates as serial numbers instead of locale-formatted text.
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// tableFromRecords is shared by every format so both produce identical rows. The first
// non-blank record is the header row; data rows are numbered from 1 after it.
func tableFromRecords(records [][]string, maxRows int) (*Table, error) {
	start := 0
	for start < len(records) && blankRecord(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, ErrEmptyFile
	}

	headers := normalizeHeaderRow(records[start])
	table := &Table{Headers: headers}
	for i, record := range records[start+1:] {
		if blankRecord(record) {
			continue
		}
		if maxRows > 0 && len(table.Rows) >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrRowLimit, maxRows)
		}
		values := make(map[string]string, len(headers))
		for col, header := range headers {
			if header == "" {
				continue
			}
			if _, dup := values[header]; dup {
				continue
			}
			if col < len(record) {
				values[header] = record[col]
			} else {
				values[header] = ""
			}
		}
		table.Rows = append(table.Rows, Row{Number: i + 1, Values: values})
	}
	if len(table.Rows) == 0 {
		return nil, ErrEmptyFile
	}
	return table, nil
}

func normalizeHeaderRow(row []string) []string {
	headers := make([]string, len(row))
	for i, col := range row {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(col), "\ufeff"))
	}
	return headers
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
