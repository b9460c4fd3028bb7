package extraction

import (
	"github.com/go-faster/jx"
)

// Kind is the type of a schema node
type Kind int

const (
	KindObject Kind = iota + 1
	KindArray
	KindString
	KindNumber
	KindNullable
)

// Property is a named member of an object node
type Property struct {
	Name   string
	Schema *Node
}

// Node is one node of a strict JSON schema. Nodes are built with Object,
// Array, String, Number and Nullable; every object property is required and
// undeclared properties are rejected, so optional values can only be
// expressed through Nullable.
type Node struct {
	kind       Kind
	properties []Property // KindObject
	elem       *Node      // KindArray, KindNullable
}

// Field pairs a property name with its schema
func Field(name string, schema *Node) Property {
	return Property{Name: name, Schema: schema}
}

// Object returns an object node. Properties keep declaration order.
func Object(props ...Property) *Node {
	return &Node{kind: KindObject, properties: props}
}

// Array returns an array node whose elements match elem
func Array(elem *Node) *Node {
	return &Node{kind: KindArray, elem: elem}
}

// String returns a string node
func String() *Node {
	return &Node{kind: KindString}
}

// Number returns a number node
func Number() *Node {
	return &Node{kind: KindNumber}
}

// Nullable returns a node that accepts either inner's type or null.
// inner must be a string or number node.
func Nullable(inner *Node) *Node {
	if inner.kind != KindString && inner.kind != KindNumber {
		panic("extraction: only scalar nodes can be nullable")
	}
	return &Node{kind: KindNullable, elem: inner}
}

// Kind returns the node kind
func (n *Node) Kind() Kind {
	return n.kind
}

// Properties returns the properties of an object node
func (n *Node) Properties() []Property {
	return n.properties
}

// Elem returns the element node of an array or the inner node of a nullable
func (n *Node) Elem() *Node {
	return n.elem
}

// Required returns the required property names of an object node, which is
// always every declared property
func (n *Node) Required() []string {
	names := make([]string, 0, len(n.properties))
	for _, p := range n.properties {
		names = append(names, p.Name)
	}
	return names
}

// typeName is the JSON Schema type keyword for scalar kinds
func (n *Node) typeName() string {
	switch n.kind {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	}
	return ""
}

// Encode writes the node as JSON Schema
func (n *Node) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		switch n.kind {
		case KindNullable:
			e.Field("type", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					e.Str(n.elem.typeName())
					e.Str("null")
				})
			})
		case KindArray:
			e.Field("type", func(e *jx.Encoder) { e.Str("array") })
			e.Field("items", n.elem.Encode)
		case KindObject:
			e.Field("type", func(e *jx.Encoder) { e.Str("object") })
			e.Field("properties", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, p := range n.properties {
						e.Field(p.Name, p.Schema.Encode)
					}
				})
			})
			e.Field("required", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, name := range n.Required() {
						e.Str(name)
					}
				})
			})
			e.Field("additionalProperties", func(e *jx.Encoder) { e.Bool(false) })
		default:
			e.Field("type", func(e *jx.Encoder) { e.Str(n.typeName()) })
		}
	})
}

// MarshalJSON implements json.Marshaler
func (n *Node) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	n.Encode(&e)
	return e.Bytes(), nil
}

// ReceiptSchema is the output contract for receipt extraction
func ReceiptSchema() *Node {
	return Object(
		Field("storeName", Nullable(String())),
		Field("date", Nullable(String())),
		Field("items", Array(lineItemSchema())),
		Field("subtotal", Number()),
		Field("tax", Number()),
		Field("total", Number()),
	)
}

func lineItemSchema() *Node {
	return Object(
		Field("name", String()),
		Field("quantity", Number()),
		Field("unitPrice", Number()),
		Field("lineTotal", Number()),
	)
}
