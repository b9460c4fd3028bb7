package extraction

import (
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

// Decode extracts the structured payload from a service envelope and parses
// it into a Receipt. Any deviation from the schema is a *PayloadError; no
// field is ever defaulted.
func Decode(env Envelope) (receipt.Receipt, error) {
	content, found, err := envelopeContent(env)
	if err != nil {
		return receipt.Receipt{}, newPayloadError("invalid envelope", string(env), err)
	}
	if !found || strings.TrimSpace(content) == "" {
		return receipt.Receipt{}, newPayloadError("no content", "", nil)
	}

	r, err := decodeReceipt(content)
	if err != nil {
		return receipt.Receipt{}, newPayloadError("content does not match schema", content, err)
	}
	return r, nil
}

// envelopeContent locates choices[0].message.content
func envelopeContent(env Envelope) (content string, found bool, err error) {
	d := jx.DecodeBytes(env)
	if d.Next() != jx.Object {
		return "", false, errors.New("envelope is not a JSON object")
	}

	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "choices" || d.Next() != jx.Array {
			return d.Skip()
		}
		first := true
		return d.Arr(func(d *jx.Decoder) error {
			if !first || d.Next() != jx.Object {
				return d.Skip()
			}
			first = false
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "message" || d.Next() != jx.Object {
					return d.Skip()
				}
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					if string(key) != "content" || d.Next() != jx.String {
						return d.Skip()
					}
					s, err := d.Str()
					if err != nil {
						return err
					}
					content, found = s, true
					return nil
				})
			})
		})
	})
	return content, found, err
}

// errorEnvelopeMessage reads error.message (or a bare error string) from a
// service error body
func errorEnvelopeMessage(body []byte) string {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return ""
	}

	var msg string
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			msg = s
			return err
		case jx.Object:
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "message" || d.Next() != jx.String {
					return d.Skip()
				}
				s, err := d.Str()
				msg = s
				return err
			})
		default:
			return d.Skip()
		}
	})
	return strings.TrimSpace(msg)
}

// decodeReceipt parses content strictly against ReceiptSchema
func decodeReceipt(content string) (receipt.Receipt, error) {
	var r receipt.Receipt
	d := jx.DecodeStr(content)
	if d.Next() != jx.Object {
		return r, errors.New("payload is not a JSON object")
	}

	seen := make(map[string]bool)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		name := string(key)
		if seen[name] {
			return errors.Errorf("duplicate field %q", name)
		}
		seen[name] = true

		var err error
		switch name {
		case "storeName":
			r.StoreName, err = nullableString(d)
		case "date":
			r.Date, err = nullableString(d)
		case "items":
			r.Items, err = decodeItems(d)
		case "subtotal":
			r.Subtotal, err = number(d)
		case "tax":
			r.Tax, err = number(d)
		case "total":
			r.Total, err = number(d)
		default:
			return errors.Errorf("unexpected field %q", name)
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", name)
		}
		return nil
	})
	if err != nil {
		return receipt.Receipt{}, err
	}

	if err := requireFields(ReceiptSchema(), seen); err != nil {
		return receipt.Receipt{}, err
	}
	if err := d.Skip(); err != io.EOF {
		return receipt.Receipt{}, errors.New("unexpected trailing data")
	}
	return r, nil
}

func decodeItems(d *jx.Decoder) ([]receipt.LineItem, error) {
	if d.Next() != jx.Array {
		return nil, errors.Errorf("expected array, got %s", d.Next())
	}

	items := make([]receipt.LineItem, 0)
	schema := lineItemSchema()
	err := d.Arr(func(d *jx.Decoder) error {
		item, err := decodeItem(d, schema)
		if err != nil {
			return errors.Wrapf(err, "item %d", len(items))
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func decodeItem(d *jx.Decoder, schema *Node) (receipt.LineItem, error) {
	var item receipt.LineItem
	if d.Next() != jx.Object {
		return item, errors.Errorf("expected object, got %s", d.Next())
	}

	seen := make(map[string]bool)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		name := string(key)
		if seen[name] {
			return errors.Errorf("duplicate field %q", name)
		}
		seen[name] = true

		var err error
		switch name {
		case "name":
			item.Name, err = str(d)
		case "quantity":
			item.Quantity, err = number(d)
		case "unitPrice":
			item.UnitPrice, err = number(d)
		case "lineTotal":
			item.LineTotal, err = number(d)
		default:
			return errors.Errorf("unexpected field %q", name)
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", name)
		}
		return nil
	})
	if err != nil {
		return item, err
	}
	return item, requireFields(schema, seen)
}

func requireFields(schema *Node, seen map[string]bool) error {
	for _, name := range schema.Required() {
		if !seen[name] {
			return errors.Errorf("missing field %q", name)
		}
	}
	return nil
}

func str(d *jx.Decoder) (string, error) {
	if t := d.Next(); t != jx.String {
		return "", errors.Errorf("expected string, got %s", t)
	}
	return d.Str()
}

func nullableString(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := str(d)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func number(d *jx.Decoder) (float64, error) {
	if t := d.Next(); t != jx.Number {
		return 0, errors.Errorf("expected number, got %s", t)
	}
	return d.Float64()
}
