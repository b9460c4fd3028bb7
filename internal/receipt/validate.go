package receipt

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Default tolerances absorb OCR digit noise and per-line rounding.
const (
	LineItemTolerance = 0.02
	SubtotalTolerance = 0.10
	TotalTolerance    = 0.02
)

// Tolerances holds the margins used when reconciling independently derived amounts
type Tolerances struct {
	LineItem float64 // quantity * unit price vs line total
	Subtotal float64 // sum of line totals vs subtotal
	Total    float64 // subtotal + tax vs total
}

// DefaultTolerances is used by Validate
var DefaultTolerances = Tolerances{
	LineItem: LineItemTolerance,
	Subtotal: SubtotalTolerance,
	Total:    TotalTolerance,
}

// Validate checks r against DefaultTolerances
func Validate(r Receipt) Validation {
	return DefaultTolerances.Validate(r)
}

// Validate checks the arithmetic self-consistency of r. Warnings are advisory
// and reported in a fixed order: empty items, per-item sign checks, per-item
// price checks, subtotal, total.
func (t Tolerances) Validate(r Receipt) Validation {
	warnings := make([]string, 0)

	if len(r.Items) == 0 {
		warnings = append(warnings, "No items found")
	}

	for _, item := range r.Items {
		if item.Quantity <= 0 {
			warnings = append(warnings, fmt.Sprintf("Item %q has invalid quantity: %s", item.Name, FormatAmount(item.Quantity)))
		}
		if item.LineTotal < 0 {
			warnings = append(warnings, fmt.Sprintf("Item %q has negative line total: %s", item.Name, FormatAmount(item.LineTotal)))
		}
	}

	lineTol := decimal.NewFromFloat(t.LineItem)
	for _, item := range r.Items {
		if item.UnitPrice <= 0 {
			continue
		}
		expected := decimal.NewFromFloat(item.Quantity).Mul(decimal.NewFromFloat(item.UnitPrice))
		if exceeds(expected, decimal.NewFromFloat(item.LineTotal), lineTol) {
			warnings = append(warnings, fmt.Sprintf("Item %q: quantity x unit price (%s) doesn't match line total (%s)",
				item.Name, expected.StringFixed(2), FormatAmount(item.LineTotal)))
		}
	}

	computed := decimal.Zero
	for _, item := range r.Items {
		computed = computed.Add(decimal.NewFromFloat(item.LineTotal))
	}
	if exceeds(computed, decimal.NewFromFloat(r.Subtotal), decimal.NewFromFloat(t.Subtotal)) {
		warnings = append(warnings, fmt.Sprintf("Items sum (%s) doesn't match subtotal (%s)",
			computed.StringFixed(2), FormatAmount(r.Subtotal)))
	}

	expectedTotal := decimal.NewFromFloat(r.Subtotal).Add(decimal.NewFromFloat(r.Tax))
	if exceeds(expectedTotal, decimal.NewFromFloat(r.Total), decimal.NewFromFloat(t.Total)) {
		warnings = append(warnings, fmt.Sprintf("Subtotal + tax (%s) doesn't match total (%s)",
			expectedTotal.StringFixed(2), FormatAmount(r.Total)))
	}

	return Validation{
		Valid:    len(warnings) == 0,
		Warnings: warnings,
	}
}

// exceeds reports whether |a - b| > tol
func exceeds(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(tol)
}
