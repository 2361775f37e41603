package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNotSequence = errors.New("top-level value is not a list or object")

// object keeps keys in the order they appeared. A repeated key overwrites the
// earlier value in place.
type object struct {
	keys   []string
	values []any
}

func (o *object) set(key string, v any) {
	for i, k := range o.keys {
		if k == key {
			o.values[i] = v
			return
		}
	}
	o.keys = append(o.keys, key)
	o.values = append(o.values, v)
}

// compact renders the object as JSON with its original key order.
func (o *object) compact() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		sb.Write(kb)
		sb.WriteByte(':')
		sb.WriteString(compactValue(o.values[i]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func compactValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case *object:
		return t.compact()
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = compactValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}

// decodeJSON reads s as a single JSON array or object and returns its
// elements, or the object's values in key order.
func decodeJSON(s string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return sequence(v)
}

func sequence(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case *object:
		return t.values, nil
	default:
		return nil, errNotSequence
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '[':
		items := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		obj := &object{}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v is not a string", kt)
			}
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}
