package trip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// utf8BOM lets spreadsheet apps detect the encoding of exported CSV
const utf8BOM = "\ufeff"

var csvHeader = []string{"date", "time", "category", "merchant", "amount", "currency", "note"}

// unsafeFilenameChars matches path separators and characters rejected by common filesystems
var unsafeFilenameChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]+`)

// Export is a rendered download
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// exportBaseName turns a trip title into a safe file name prefix
func exportBaseName(title string) string {
	base := unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(title), "_")
	base = strings.Trim(base, ". ")
	if base == "" {
		base = "trip"
	}
	return base
}

// ExportJSON renders the whole trip as an indented JSON backup
func ExportJSON(t Trip) (*Export, error) {
	if t.Receipts == nil {
		t.Receipts = []Receipt{}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling trip: %w", err)
	}
	return &Export{
		Filename:    exportBaseName(t.Title) + "_backup.json",
		ContentType: "application/json",
		Data:        data,
	}, nil
}

// ExportCSV renders one row per receipt in stored order. Merchant and note are
// always quoted; the other columns are quoted only when they hold a separator.
func ExportCSV(t Trip) *Export {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	buf.WriteString(strings.Join(csvHeader, ","))
	buf.WriteString("\n")

	for _, r := range t.Receipts {
		row := []string{
			csvField(r.Date),
			csvField(r.Time),
			csvField(string(r.Category)),
			quoteCSV(r.MerchantName),
			strconv.Itoa(r.Amount),
			csvField(r.Currency),
			quoteCSV(r.Note),
		}
		buf.WriteString(strings.Join(row, ","))
		buf.WriteString("\n")
	}

	return &Export{
		Filename:    exportBaseName(t.Title) + "_export.csv",
		ContentType: "text/csv; charset=utf-8",
		Data:        buf.Bytes(),
	}
}

// csvField quotes s only when it contains a comma, quote or line break
func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quoteCSV(s)
	}
	return s
}

// quoteCSV wraps s in double quotes and doubles any quote inside it
func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
