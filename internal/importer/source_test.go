package importer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		filename    string
		contentType string
		want        Format
	}{
		{"points.CSV", "", FormatCSV},
		{"sales.xlsx", "application/octet-stream", FormatXLSX},
		{"legacy.xls", "", FormatXLS},
		{"upload", "text/csv; charset=utf-8", FormatCSV},
		{"blob", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FormatXLSX},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.filename, tc.contentType)
		if err != nil || got != tc.want {
			t.Fatalf("DetectFormat(%q, %q): expected %s, got %s (%v)", tc.filename, tc.contentType, tc.want, got, err)
		}
	}
	rejected := []struct{ filename, contentType string }{
		{"notes.pdf", "application/pdf"},
		{"notes.txt", "text/plain"},
		{"notes.txt", "application/octet-stream"},
		{"notes.txt", "text/csv"},
		{"macro.xlsm", ""},
		{"upload", "text/plain; charset=utf-8"},
	}
	for _, tc := range rejected {
		if _, err := DetectFormat(tc.filename, tc.contentType); !errors.Is(err, ErrUnknownFormat) {
			t.Fatalf("DetectFormat(%q, %q): expected ErrUnknownFormat, got %v", tc.filename, tc.contentType, err)
		}
	}
}

func TestReadTableCSVStripsBOM(t *testing.T) {
	data := "\ufeff手机号,积分\n13800138000,50\n,\n13900000000,20\n"
	table, err := ReadTable(strings.NewReader(data), FormatCSV, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if table.Headers[0] != "手机号" {
		t.Fatalf("expected BOM stripped header, got %q", table.Headers[0])
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(table.Rows))
	}
	if got := table.Rows[0].Get(FieldPhone); got != "13800138000" {
		t.Fatalf("expected phone, got %q", got)
	}
	if table.Rows[1].Number != 3 {
		t.Fatalf("expected blank line to keep numbering, got row %d", table.Rows[1].Number)
	}
}

func TestReadTableCSVDecodesGB18030(t *testing.T) {
	encoded, err := simplifiedchinese.GB18030.NewEncoder().String("手机号,姓名,积分\n13800138000,张三,50\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	table, err := ReadTable(strings.NewReader(encoded), FormatCSV, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := table.Rows[0].Get(FieldName); got != "张三" {
		t.Fatalf("expected decoded name, got %q", got)
	}
}

func TestReadTableCSVSemicolonDelimiter(t *testing.T) {
	table, err := ReadTable(strings.NewReader("phone;points\n13800138000;5\n"), FormatCSV, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := table.Rows[0].Get(FieldPoints); got != "5" {
		t.Fatalf("expected points 5, got %q", got)
	}
}

func TestReadTableRowLimit(t *testing.T) {
	_, err := ReadTable(strings.NewReader("phone\n1\n2\n3\n"), FormatCSV, 2)
	if !errors.Is(err, ErrRowLimit) {
		t.Fatalf("expected ErrRowLimit, got %v", err)
	}
}

func TestReadTableEmpty(t *testing.T) {
	_, err := ReadTable(strings.NewReader("phone,points\n"), FormatCSV, 0)
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestReadTableXLSXMatchesCSV(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"手机号", "积分", "渠道", "日期"},
		{"13800138000", 50, "获得", "2024年01月05日"},
		{"13800138000", -20, "", "2024-01-06"},
	}
	for i, values := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	fromXLSX, err := ReadTable(&buf, FormatXLSX, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	fromCSV, err := ReadTable(strings.NewReader("手机号,积分,渠道,日期\n13800138000,50,获得,2024年01月05日\n13800138000,-20,,2024-01-06\n"), FormatCSV, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	if len(fromXLSX.Rows) != len(fromCSV.Rows) {
		t.Fatalf("expected %d rows, got %d", len(fromCSV.Rows), len(fromXLSX.Rows))
	}
	n := fixedNormalizer()
	for i := range fromCSV.Rows {
		a, _, errA := n.Normalize(KindLedger, fromXLSX.Rows[i])
		b, _, errB := n.Normalize(KindLedger, fromCSV.Rows[i])
		if errA != nil || errB != nil {
			t.Fatalf("row %d: unexpected errors %v / %v", i+1, errA, errB)
		}
		if *a.Entry != *b.Entry {
			t.Fatalf("row %d: xlsx %+v differs from csv %+v", i+1, *a.Entry, *b.Entry)
		}
	}
}

func TestReadTableRejectsCorruptWorkbook(t *testing.T) {
	if _, err := ReadTable(strings.NewReader("not a zip"), FormatXLSX, 0); err == nil {
		t.Fatalf("expected error for corrupt workbook")
	}
}
