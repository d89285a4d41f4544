// Package schema describes the expected shape of decoded JSON values and
// validates values against it, reporting every violation in one pass.
package schema

import (
	"sort"
	"strings"
)

// Kind tags a Node.
type Kind int

const (
	// KindAny accepts every value. It is the zero Kind.
	KindAny Kind = iota
	KindPrimitive
	KindObject
	KindList
	KindOptional
)

// Type names a primitive JSON type.
type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Number  Type = "number"
	Boolean Type = "boolean"
	Object  Type = "object"
	List    Type = "list"
	Null    Type = "null"
)

// Node is one vertex of a schema tree. The zero Node accepts anything.
type Node struct {
	kind   Kind
	typ    Type
	fields map[string]Node
	elem   *Node
}

// Any returns a node that accepts every value.
func Any() Node { return Node{} }

// Primitive returns a node requiring a value of type t.
func Primitive(t Type) Node { return Node{kind: KindPrimitive, typ: t} }

// Fields returns an object node with the given named children.
func Fields(fields map[string]Node) Node {
	copied := make(map[string]Node, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Node{kind: KindObject, fields: copied}
}

// ListOf returns a node requiring a sequence whose elements match elem.
func ListOf(elem Node) Node { return Node{kind: KindList, elem: &elem} }

// Optional wraps inner so that a missing or null value is accepted.
func Optional(inner Node) Node { return Node{kind: KindOptional, elem: &inner} }

// Kind reports the node's tag.
func (n Node) Kind() Kind { return n.kind }

// Type reports the primitive type of a KindPrimitive node.
func (n Node) Type() Type { return n.typ }

// Elem returns the element of a list or the wrapped node of an optional.
func (n Node) Elem() Node {
	if n.elem == nil {
		return Node{}
	}
	return *n.elem
}

// Keys returns the object's field names in sorted order.
func (n Node) Keys() []string {
	keys := make([]string, 0, len(n.fields))
	for k := range n.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the child node for key.
func (n Node) Field(key string) (Node, bool) {
	f, ok := n.fields[key]
	return f, ok
}

// IsEmpty reports whether the node places no constraint on a value.
func (n Node) IsEmpty() bool {
	return n.kind == KindAny || (n.kind == KindObject && len(n.fields) == 0)
}

// String renders the node in the literal form accepted by Parse.
func (n Node) String() string {
	switch n.kind {
	case KindPrimitive:
		return string(n.typ)
	case KindObject:
		parts := make([]string, 0, len(n.fields))
		for _, k := range n.Keys() {
			parts = append(parts, k+": "+n.fields[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindList:
		return "[" + n.Elem().String() + "]"
	case KindOptional:
		return n.Elem().String() + "?"
	default:
		return "any"
	}
}
