package schema

import (
	"fmt"
	"math"
)

// Validate checks value against node and returns every violation found. path
// names the value in messages; pass "" for the root. value is expected to be
// the output of decoding JSON into any. An empty node accepts any value,
// including one that is not an object.
func Validate(value any, node Node, path string) []string {
	if node.IsEmpty() {
		return nil
	}
	var errs []string
	validate(value, node, path, &errs)
	return errs
}

func validate(value any, node Node, path string, errs *[]string) {
	switch node.kind {
	case KindAny:
		return
	case KindOptional:
		if value == nil {
			return
		}
		validate(value, node.Elem(), path, errs)
	case KindPrimitive:
		if !matches(value, node.typ) {
			*errs = append(*errs, mismatch(path, string(node.typ), value))
		}
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, mismatch(path, string(Object), value))
			return
		}
		for _, key := range node.Keys() {
			child := node.fields[key]
			childPath := join(path, key)
			v, present := obj[key]
			if !present {
				if child.kind == KindOptional {
					continue
				}
				*errs = append(*errs, "Missing key: "+childPath)
				continue
			}
			validate(v, child, childPath, errs)
		}
	case KindList:
		items, ok := value.([]any)
		if !ok {
			*errs = append(*errs, mismatch(path, string(List), value))
			return
		}
		elem := node.Elem()
		for i, item := range items {
			validate(item, elem, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func mismatch(path, expected string, value any) string {
	return fmt.Sprintf("Type mismatch at %s: expected %s, got %s", where(path), expected, TypeOf(value))
}

func matches(value any, t Type) bool {
	switch t {
	case String:
		_, ok := value.(string)
		return ok
	case Boolean:
		_, ok := value.(bool)
		return ok
	case Integer:
		return isInteger(value)
	case Number:
		return isNumber(value)
	case Object:
		_, ok := value.(map[string]any)
		return ok
	case List:
		_, ok := value.([]any)
		return ok
	case Null:
		return value == nil
	default:
		return false
	}
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return !math.IsInf(v, 0) && v == math.Trunc(v)
	case float32:
		f := float64(v)
		return !math.IsInf(f, 0) && f == math.Trunc(f)
	case interface{ Int64() (int64, error) }:
		_, err := v.Int64()
		return err == nil
	default:
		return false
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case interface{ Float64() (float64, error) }:
		return true
	default:
		return false
	}
}

// TypeOf names the JSON type of a decoded value as used in violation messages.
func TypeOf(value any) string {
	switch value.(type) {
	case nil:
		return string(Null)
	case string:
		return string(String)
	case bool:
		return string(Boolean)
	case map[string]any:
		return string(Object)
	case []any:
		return string(List)
	}
	if isInteger(value) {
		return string(Integer)
	}
	if isNumber(value) {
		return string(Number)
	}
	return fmt.Sprintf("%T", value)
}
