package value

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// DecodePayload turns a raw bus payload into a Value.
//
// A JSON object with a "val" member yields that member (a bool becomes 0/1)
// and full holds the whole object. Any other object or array is returned
// whole. Everything else, including invalid JSON, goes through ParseText.
func DecodePayload(payload []byte) (v Value, full Value) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var x any
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&x); err == nil && !dec.More() {
			switch t := x.(type) {
			case map[string]any:
				obj := FromAny(t)
				val, ok := t["val"]
				if !ok {
					return obj, Null()
				}
				return fromVal(val), obj
			case []any:
				return FromAny(t), Null()
			}
		}
	}
	return ParseText(string(payload)), Null()
}

func fromVal(x any) Value {
	switch t := x.(type) {
	case bool:
		if t {
			return Int(1)
		}
		return Int(0)
	default:
		return FromAny(t)
	}
}

// ParseText applies the text coercions in order: a float when the text holds
// a '.', a bool literal, an integer, a float, and finally the string itself.
// Coercions see the text with surrounding whitespace removed; a string result
// keeps it. Numbers must be canonical decimals, so "05" stays a string.
func ParseText(s string) Value {
	t := strings.TrimSpace(s)
	if strings.Contains(t, ".") {
		if IsCanonicalDecimal(t) {
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return Number(f)
			}
		}
		return String(s)
	}
	switch {
	case strings.EqualFold(t, "true"):
		return Bool(true)
	case strings.EqualFold(t, "false"):
		return Bool(false)
	}
	if !IsCanonicalDecimal(t) {
		return String(s)
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return Number(f)
	}
	return String(s)
}
