package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// tree is a loosely-typed JSON object. Numbers decode as json.Number so
// token amounts keep their precision.
type tree map[string]any

func decodeTree(data []byte) (tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return tree(m), nil
}

// lookup returns the value for key, matching case-insensitively when there
// is no exact match.
func (t tree) lookup(key string) (any, bool) {
	if t == nil {
		return nil, false
	}
	if v, ok := t[key]; ok {
		return v, true
	}
	for k, v := range t {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (t tree) object(key string) tree {
	v, ok := t.lookup(key)
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case map[string]any:
		return tree(m)
	case string:
		// Nested payloads are sometimes JSON-encoded strings.
		if sub, err := decodeTree([]byte(m)); err == nil {
			return sub
		}
	}
	return nil
}

func (t tree) array(key string) []any {
	v, ok := t.lookup(key)
	if !ok {
		return nil
	}
	arr, _ := v.([]any)
	return arr
}

func (t tree) str(key string) string {
	v, ok := t.lookup(key)
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// decimal parses a number or numeric string. ok is false when the key is
// absent or empty; err is set when the value is present but malformed.
func (t tree) decimal(key string) (d decimal.Decimal, ok bool, err error) {
	s := t.str(key)
	if s == "" {
		return decimal.Zero, false, nil
	}
	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%s: invalid amount %q", key, s)
	}
	return d, true, nil
}

// boolean accepts JSON booleans and "true"/"false" strings.
func (t tree) boolean(key string) (b bool, ok bool, err error) {
	v, present := t.lookup(key)
	if !present || v == nil {
		return false, false, nil
	}
	switch x := v.(type) {
	case bool:
		return x, true, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return false, false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, false, fmt.Errorf("%s: invalid boolean %q", key, x)
		}
		return b, true, nil
	default:
		return false, false, fmt.Errorf("%s: invalid boolean %v", key, v)
	}
}

func (t tree) integer(key string) (int, error) {
	s := t.str(key)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, s)
	}
	return int(f), nil
}

// token returns the collection name of a token class key. The key may be an
// object with a collection field or a "Collection$Category$Type$Key"
// string.
func (t tree) token(key string) string {
	if obj := t.object(key); obj != nil {
		return obj.str("collection")
	}
	s := t.str(key)
	if i := strings.IndexByte(s, '$'); i >= 0 {
		return s[:i]
	}
	return s
}

// stringValues returns every string leaf of a JSON argument, visiting object
// keys in sorted order. Nested JSON-encoded strings are expanded. A
// non-JSON argument is returned as is.
func stringValues(arg string) []string {
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return []string{arg}
	}
	var out []string
	collectStrings(v, &out)
	return out
}

func collectStrings(v any, out *[]string) {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			*out = append(*out, stringValues(s)...)
			return
		}
		*out = append(*out, x)
	case []any:
		for _, e := range x {
			collectStrings(e, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(x[k], out)
		}
	}
}
