package extraction

// SchemaName identifies the output contract to services that name schemas
const SchemaName = "receipt_extraction"

// receiptInstructions is the shared system prompt used by all providers
const receiptInstructions = `You are extracting structured data from the text of a printed receipt. The text was produced by OCR and may contain recognition noise. Read all of it and return a single JSON object that matches the provided schema.

1. **Store name**: Use the merchant or business name, preferring the name printed near the top of the receipt. Use null if no store name can be found.

2. **Date**: Find the transaction date and convert it to ISO 8601 calendar form (YYYY-MM-DD). Common printed formats include MM/DD/YYYY, DD/MM/YYYY, MM-DD-YY and written dates. Use null if no date can be recognized.

3. **Items**: List every purchased item in the order it appears.
   - quantity defaults to 1 when no quantity is printed.
   - Recognize multiplicative quantity notations such as "2x", "2 x", "2 @", "2 @ 3.99" and "QTY 2".
   - unitPrice is the price of one unit. When only the line total is printed, derive unitPrice as lineTotal divided by quantity.
   - lineTotal is the amount charged for the whole line.
   - Do not include subtotal, tax, total, change, tender or payment lines as items.

4. **Totals**: Put the subtotal, tax and final total amounts in the subtotal, tax and total fields. Use 0 for tax when none is printed.

Rules:
- All amounts are plain numbers (e.g. 3.99 for $3.99), never strings.
- Do not invent items or amounts that are not in the text.
- Return only the JSON object.`

// Request is everything a provider needs for one extraction call
type Request struct {
	SchemaName   string
	Schema       *Node
	Instructions string
	Text         string
}

// Compose builds the extraction request for raw receipt text. Empty text is
// allowed and simply yields a receipt without items.
func Compose(text string) Request {
	return Request{
		SchemaName:   SchemaName,
		Schema:       ReceiptSchema(),
		Instructions: receiptInstructions,
		Text:         text,
	}
}
