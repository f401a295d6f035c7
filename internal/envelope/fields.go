package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Fields is the nested business payload as an ordered string-keyed map.
type Fields struct {
	keys   []string
	values map[string]Text
}

// ParseFields decodes a JSON object, keeping key order.
func ParseFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return Fields{}, fmt.Errorf("decode nested payload: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Fields{}, fmt.Errorf("nested payload is not an object")
	}

	f := Fields{values: map[string]Text{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Fields{}, fmt.Errorf("decode nested payload key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return Fields{}, fmt.Errorf("unexpected key token %v", tok)
		}
		var value Text
		if err := dec.Decode(&value); err != nil {
			return Fields{}, fmt.Errorf("decode nested payload field %q: %w", key, err)
		}
		if _, seen := f.values[key]; !seen {
			f.keys = append(f.keys, key)
		}
		f.values[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return Fields{}, fmt.Errorf("decode nested payload: %w", err)
	}
	return f, nil
}

// Keys returns field names in document order.
func (f Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f Fields) Len() int {
	return len(f.keys)
}

// Lookup finds a field by name, preferring an exact match and falling back to
// the first case-insensitive match in document order. Null and blank values
// count as absent.
func (f Fields) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || len(f.values) == 0 {
		return "", false
	}
	if v, ok := f.values[name]; ok {
		return present(v)
	}
	for _, key := range f.keys {
		if strings.EqualFold(key, name) {
			return present(f.values[key])
		}
	}
	return "", false
}

func present(v Text) (string, bool) {
	if v.IsEmpty() {
		return "", false
	}
	return v.String(), true
}
