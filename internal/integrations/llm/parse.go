package llm

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON locates the first well-formed JSON object or array in raw model
// output. Fence markers and surrounding prose are ignored. It returns an error
// wrapping ErrNoJSON when nothing parseable is found.
func ExtractJSON(raw string) (string, error) {
	text := stripFences(raw)
	if candidate := strings.TrimSpace(text); candidate != "" && gjson.Valid(candidate) && isContainer(candidate) {
		return candidate, nil
	}
	for start := 0; start < len(text); {
		rel := strings.IndexAny(text[start:], "{[")
		if rel < 0 {
			break
		}
		open := start + rel
		end := matchBracket(text, open)
		if end > open {
			candidate := text[open : end+1]
			if gjson.Valid(candidate) {
				return candidate, nil
			}
		}
		start = open + 1
	}
	return "", fmt.Errorf("%w (response: %s)", ErrNoJSON, truncate(strings.TrimSpace(raw), 512))
}

// ParseItems returns the elements of the first JSON array found in raw: the
// top-level array, the first array under one of keys, or any array-valued
// field of a top-level object. A lone object is treated as a one-item list.
func ParseItems(raw string, keys ...string) ([]gjson.Result, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	root := gjson.Parse(payload)
	if root.IsArray() {
		return root.Array(), nil
	}
	for _, key := range keys {
		if v := root.Get(gjson.Escape(key)); v.IsArray() {
			return v.Array(), nil
		}
	}
	var nested []gjson.Result
	root.ForEach(func(_, value gjson.Result) bool {
		if value.IsArray() {
			nested = value.Array()
			return false
		}
		return true
	})
	if nested != nil {
		return nested, nil
	}
	return []gjson.Result{root}, nil
}

// ParseObject returns the first JSON object found in raw.
func ParseObject(raw string) (gjson.Result, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return gjson.Result{}, err
	}
	root := gjson.Parse(payload)
	if root.IsArray() {
		for _, item := range root.Array() {
			if item.IsObject() {
				return item, nil
			}
		}
		return gjson.Result{}, fmt.Errorf("%w: expected an object, got an array", ErrNoJSON)
	}
	return root, nil
}

// Field returns the first present field among names.
func Field(item gjson.Result, names ...string) gjson.Result {
	for _, name := range names {
		if v := item.Get(gjson.Escape(name)); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// Number reads a JSON number or a numeric string such as "85" or "85%".
func Number(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(v.Str), "%")
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	// ParseFloat accepts "NaN" and "Inf".
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Text flattens a field to prose: strings as is, arrays joined with "; ",
// objects as "key: value" pairs.
func Text(v gjson.Result) string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.IsArray():
		var parts []string
		for _, el := range v.Array() {
			if s := Text(el); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case v.IsObject():
		var parts []string
		v.ForEach(func(key, value gjson.Result) bool {
			if s := Text(value); s != "" {
				parts = append(parts, key.String()+": "+s)
			}
			return true
		})
		return strings.Join(parts, "; ")
	default:
		return strings.TrimSpace(v.String())
	}
}

var fencePattern = regexp.MustCompile("```[A-Za-z]*")

func stripFences(s string) string {
	return fencePattern.ReplaceAllString(s, "")
}

func isContainer(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// matchBracket returns the index of the bracket closing the one at open,
// skipping over string literals, or -1.
func matchBracket(s string, open int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}
