package receipt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Header is the fixed first row of every export
var Header = []string{
	"Store",
	"Date",
	"Item Name",
	"Quantity",
	"Unit Price",
	"Line Total",
	"Receipt Subtotal",
	"Tax",
	"Total",
}

const (
	unknownStore = "Unknown"
	unknownDate  = "N/A"
)

// filenameLayout sorts lexically in time order
const filenameLayout = "20060102_150405"

// FormatAmount renders v with exactly two decimals and a '.' separator
func FormatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Escape quotes a text field when it contains a comma, a double quote or a
// line break, doubling any embedded quotes. Other fields are returned as is.
func Escape(field string) string {
	if !strings.ContainsAny(field, ",\"\n\r") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// WriteCSV writes receipts under a single header, one row per line item, in
// input order. Receipts without items contribute no rows.
func WriteCSV(w io.Writer, receipts ...Receipt) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(Header, ",") + "\n"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, r := range receipts {
		store := unknownStore
		if r.StoreName != nil {
			store = *r.StoreName
		}
		date := unknownDate
		if r.Date != nil {
			date = *r.Date
		}

		for _, item := range r.Items {
			row := []string{
				Escape(store),
				date,
				Escape(item.Name),
				FormatAmount(item.Quantity),
				FormatAmount(item.UnitPrice),
				FormatAmount(item.LineTotal),
				FormatAmount(r.Subtotal),
				FormatAmount(r.Tax),
				FormatAmount(r.Total),
			}
			if _, err := bw.WriteString(strings.Join(row, ",") + "\n"); err != nil {
				return fmt.Errorf("writing row: %w", err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// CSV returns the export of receipts as a string
func CSV(receipts ...Receipt) string {
	var buf bytes.Buffer
	// bytes.Buffer writes cannot fail
	_ = WriteCSV(&buf, receipts...)
	return buf.String()
}

// Filename returns the export file name for an export created at t
func Filename(t time.Time) string {
	return "receipt_" + t.Format(filenameLayout) + ".csv"
}
