package etlsri_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/xerrors"

	"github.com/emiliosri/etlsri"
)

func TestCSVParser(t *testing.T) {
	t.Parallel()

	body := "RUC ,Nombre\n123,A\n\n,B\n456\n"

	actual, err := etlsri.CSVParser()(context.Background(), bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := [][]string{{"RUC ", "Nombre"}, {"123", "A"}, {"", "B"}, {"456"}}
	if fmt.Sprint(expected) != fmt.Sprint(actual) {
		t.Errorf("expected %q, but %q", expected, actual)
	}
}

func TestParserFor_decoding(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   []byte
		enc    string
		expect string
	}{
		{name: "utf-8 with bom", body: []byte("\xef\xbb\xbfRUC,Razón\n1,x\n"), enc: "utf-8", expect: "RUC"},
		{name: "latin1", body: []byte("Raz\xf3n,RUC\nx,1\n"), enc: "latin1", expect: "Razón"},
		{name: "windows-1252", body: []byte("Raz\xf3n \x80,RUC\nx,1\n"), enc: "windows-1252", expect: "Razón €"},
		{name: "latin1 with utf-8 bom", body: []byte("\xef\xbb\xbfRaz\xc3\xb3n,RUC\nx,1\n"), enc: "latin1", expect: "Razón"},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			enc, err := etlsri.LookupEncoding(c.enc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			p, err := etlsri.ParserFor(etlsri.FormatCSV, "", enc)
			if err != nil {
				t.Fatal(err)
			}

			actual, err := p(context.Background(), bytes.NewReader(c.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if actual[0][0] != c.expect {
				t.Errorf("expected %q, but %q", c.expect, actual[0][0])
			}
		})
	}
}

func TestXLSXParser(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	if _, err := f.NewSheet("Datos"); err != nil {
		t.Fatal(err)
	}

	rows := [][]interface{}{
		{"RUC ", "Nombre"},
		{"0190001", "A"},
		{"", "B"},
	}
	for i, r := range rows {
		r := r
		if err := f.SetSheetRow("Datos", fmt.Sprintf("A%d", i+1), &r); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	actual, err := etlsri.XLSXParser("Datos")(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table, err := etlsri.NewTable(actual)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := etlsri.Transform(table, "ruc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(table.Rows) != 1 || table.Rows[0][0] != "0190001" {
		t.Errorf("unexpected rows %q", table.Rows)
	}
}

func TestXLSXParser_invalid(t *testing.T) {
	t.Parallel()

	if _, err := etlsri.XLSXParser("")(context.Background(), bytes.NewBufferString("ruc\n1\n")); err == nil {
		t.Error("expected error but no error occurred")
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		path   string
		expect string
	}{
		{format: etlsri.FormatAuto, path: "/tmp/sri_ruc.csv", expect: etlsri.FormatCSV},
		{format: etlsri.FormatAuto, path: "/tmp/SRI.XLSX", expect: etlsri.FormatXLSX},
		{format: etlsri.FormatAuto, path: "/tmp/sri.xls", expect: etlsri.FormatXLS},
		{format: etlsri.FormatAuto, path: "/tmp/sri", expect: etlsri.FormatCSV},
		{format: etlsri.FormatXLSX, path: "/tmp/sri.csv", expect: etlsri.FormatXLSX},
	}

	for _, c := range cases {
		if actual := etlsri.DetectFormat(c.format, c.path); actual != c.expect {
			t.Errorf("DetectFormat(%q, %q): expected %q, but %q", c.format, c.path, c.expect, actual)
		}
	}
}

func TestParserFor_unsupported(t *testing.T) {
	t.Parallel()

	if _, err := etlsri.ParserFor("parquet", "", nil); !xerrors.Is(err, etlsri.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, but %v", err)
	}
}

func TestLookupEncoding_unknown(t *testing.T) {
	t.Parallel()

	if _, err := etlsri.LookupEncoding("klingon"); !xerrors.Is(err, etlsri.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, but %v", err)
	}
}

func TestXLSParser_invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body []byte
	}{
		{name: "csv", body: []byte("ruc,nombre\n1,A\n")},
		{name: "empty", body: nil},
		{name: "xlsx", body: func() []byte {
			buf, err := excelize.NewFile().WriteToBuffer()
			if err != nil {
				t.Fatal(err)
			}
			return buf.Bytes()
		}()},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if _, err := etlsri.XLSParser()(context.Background(), bytes.NewReader(c.body)); err == nil {
				t.Error("expected error but no error occurred")
			}
		})
	}
}

func TestParserFor_xls(t *testing.T) {
	t.Parallel()

	p, err := etlsri.ParserFor(etlsri.DetectFormat(etlsri.FormatAuto, "/staging/SRI.xls"), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p(context.Background(), bytes.NewBufferString("not a workbook")); err == nil {
		t.Error("expected error but no error occurred")
	}
}
