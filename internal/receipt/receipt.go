package receipt

// LineItem is one purchased item on a receipt
type LineItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	LineTotal float64 `json:"lineTotal"`
}

// Receipt is the structured record extracted from a single receipt's text.
// StoreName and Date are nil when the receipt does not show them.
type Receipt struct {
	StoreName *string    `json:"storeName"`
	Date      *string    `json:"date"` // YYYY-MM-DD
	Items     []LineItem `json:"items"`
	Subtotal  float64    `json:"subtotal"`
	Tax       float64    `json:"tax"`
	Total     float64    `json:"total"`
}

// Validation is the advisory outcome of checking a receipt's arithmetic.
// It is derived from a Receipt on demand and never stored.
type Validation struct {
	Valid    bool     `json:"isValid"`
	Warnings []string `json:"warnings"`
}

// Store returns the store name or "" when absent
func (r Receipt) Store() string {
	if r.StoreName == nil {
		return ""
	}
	return *r.StoreName
}

// PurchaseDate returns the date or "" when absent
func (r Receipt) PurchaseDate() string {
	if r.Date == nil {
		return ""
	}
	return *r.Date
}
