package etlsri

import (
	"context"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"gitlab.com/osaki-lab/iowrapper"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/xerrors"
)

// Source formats.
const (
	FormatAuto = "auto"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatXLS  = "xls"
)

// Parser parses a staged source into records. The first record is the header.
type Parser func(context.Context, io.Reader) ([][]string, error)

// CSVParser provides a parser to parse CSV files.
// Records may be shorter than the header; blank lines are skipped.
func CSVParser() Parser {
	return func(_ context.Context, r io.Reader) ([][]string, error) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1

		records, err := cr.ReadAll()
		if err != nil {
			return nil, xerrors.Errorf("failed to read content as a CSV: %w", err)
		}

		return records, nil
	}
}

// XLSXParser provides a parser reading a sheet of an Office Open XML workbook.
// An empty sheet name selects the first sheet.
func XLSXParser(sheet string) Parser {
	return func(_ context.Context, r io.Reader) ([][]string, error) {
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, xerrors.Errorf("failed to open xlsx file: %w", err)
		}
		defer f.Close()

		name := sheet
		if name == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				return nil, errXLSNoSheet
			}
			name = sheets[0]
		}

		rows, err := f.GetRows(name)
		if err != nil {
			return nil, xerrors.Errorf("failed to read rows of sheet %q: %w", name, err)
		}

		return rows, nil
	}
}

// XLSParser provides a parser reading the first sheet of a legacy Excel workbook.
func XLSParser() Parser {
	getRow := func(sheet *xls.WorkSheet, i int) (r *xls.Row, ok bool) {
		defer func() {
			if recover() != nil {
				r, ok = nil, false
			}
		}()

		r = sheet.Row(i)
		return r, r != nil
	}

	return func(_ context.Context, r io.Reader) ([][]string, error) {
		wb, err := xls.OpenReader(iowrapper.NewSeeker(r), "utf-8")
		if err != nil {
			return nil, xerrors.Errorf("failed to open xls file: %w", err)
		}

		if wb == nil {
			return nil, errXLSNoSheet
		}

		sheet := wb.GetSheet(0)
		if sheet == nil {
			return nil, errXLSNoSheet
		}

		records := [][]string{}

		for i := 0; i <= int(sheet.MaxRow); i++ {
			row, ok := getRow(sheet, i)
			if !ok {
				continue
			}

			record := make([]string, 0, row.LastCol())
			for col := 0; col < row.LastCol(); col++ {
				record = append(record, row.Col(col))
			}

			records = append(records, record)
		}

		return records, nil
	}
}

// DetectFormat resolves FormatAuto by the extension of path.
func DetectFormat(format, path string) string {
	if format != FormatAuto && format != "" {
		return format
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	default:
		return FormatCSV
	}
}

// ParserFor returns the parser of format. Text formats are decoded from enc first.
func ParserFor(format, sheet string, enc encoding.Encoding) (Parser, error) {
	switch format {
	case FormatCSV:
		return decoding(enc, CSVParser()), nil
	case FormatXLSX:
		return XLSXParser(sheet), nil
	case FormatXLS:
		return XLSParser(), nil
	default:
		return nil, xerrors.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
}

// decoding wraps p to decode its input from enc into UTF-8. A leading byte order mark
// overrides enc and is dropped.
func decoding(enc encoding.Encoding, p Parser) Parser {
	return func(ctx context.Context, r io.Reader) ([][]string, error) {
		var t transform.Transformer = unicode.UTF8.NewDecoder()
		if enc != nil {
			t = enc.NewDecoder()
		}

		return p(ctx, transform.NewReader(r, unicode.BOMOverride(t)))
	}
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, xerrors.Errorf("unknown encoding %q: %v: %w", name, err, ErrInvalidConfig)
	}

	if enc == nil {
		return nil, xerrors.Errorf("encoding %q is not supported: %w", name, ErrInvalidConfig)
	}

	return enc, nil
}
