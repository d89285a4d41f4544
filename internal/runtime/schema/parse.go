package schema

import (
	"fmt"
	"sort"
	"strings"
)

var typeAliases = map[string]Type{
	"string":  String,
	"str":     String,
	"integer": Integer,
	"int":     Integer,
	"number":  Number,
	"float":   Number,
	"boolean": Boolean,
	"bool":    Boolean,
	"object":  Object,
	"dict":    Object,
	"list":    List,
	"array":   List,
}

// Parse builds a Node from a literal description, the form used when
// actions are declared in configuration files:
//
//	"string", "int", "number", "bool", "object", "list", "any"
//	"string?"                 optional
//	map[string]any{...}       object with named fields
//	[]any{elem}               list of elem ([]any{} is a list of anything)
//	nil                       any
func Parse(decl any) (Node, error) {
	return parse(decl, "")
}

// MustParse is like Parse but panics on error.
func MustParse(decl any) Node {
	n, err := Parse(decl)
	if err != nil {
		panic(err)
	}
	return n
}

func parse(decl any, path string) (Node, error) {
	switch s := decl.(type) {
	case nil:
		return Any(), nil
	case Node:
		return s, nil
	case string:
		return parseLiteral(s, path)
	case map[string]any:
		fields := make(map[string]Node, len(s))
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := parse(s[k], join(path, k))
			if err != nil {
				return Node{}, err
			}
			fields[k] = child
		}
		return Fields(fields), nil
	case []any:
		switch len(s) {
		case 0:
			return ListOf(Any()), nil
		case 1:
			elem, err := parse(s[0], path+"[]")
			if err != nil {
				return Node{}, err
			}
			return ListOf(elem), nil
		default:
			return Node{}, fmt.Errorf("schema: list at %q must declare exactly one element type, got %d", where(path), len(s))
		}
	default:
		return Node{}, fmt.Errorf("schema: unsupported declaration %T at %q", decl, where(path))
	}
}

func parseLiteral(lit, path string) (Node, error) {
	name := strings.ToLower(strings.TrimSpace(lit))
	if inner, ok := strings.CutSuffix(name, "?"); ok {
		n, err := parseLiteral(inner, path)
		if err != nil {
			return Node{}, err
		}
		return Optional(n), nil
	}
	if name == "any" || name == "" {
		return Any(), nil
	}
	t, ok := typeAliases[name]
	if !ok {
		return Node{}, fmt.Errorf("schema: unknown type %q at %q", lit, where(path))
	}
	return Primitive(t), nil
}

func where(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
