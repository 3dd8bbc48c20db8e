package rules

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Assignment is one key/value pair produced by an action value.
type Assignment struct {
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

// ParseAssignments decodes an action value into key/value pairs. Accepted forms:
//
//	[{"key":"a","value":1},{"key":"b","value":true}]
//	{"key":"a","value":1}
//	{"a":1,"b":true}
//	a:1
//	a
//
// The "key:value" form coerces null, booleans and numbers; a bare key is set to true.
func ParseAssignments(raw string) ([]Assignment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidValue(raw, "empty value")
	}

	switch raw[0] {
	case '[':
		var items []map[string]any
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, invalidValue(raw, err.Error())
		}
		out := make([]Assignment, 0, len(items))
		for _, item := range items {
			a, err := decodeAssignment(raw, item)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil

	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, invalidValue(raw, err.Error())
		}
		if _, ok := obj["key"]; ok {
			a, err := decodeAssignment(raw, obj)
			if err != nil {
				return nil, err
			}
			return []Assignment{a}, nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make([]Assignment, 0, len(keys))
		for _, k := range keys {
			out = append(out, Assignment{Key: k, Value: obj[k]})
		}
		return out, nil
	}

	if key, value, ok := strings.Cut(raw, ":"); ok {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, invalidValue(raw, "missing key")
		}
		return []Assignment{{Key: key, Value: coerce(strings.TrimSpace(value))}}, nil
	}
	return []Assignment{{Key: raw, Value: true}}, nil
}

func decodeAssignment(raw string, m map[string]any) (Assignment, error) {
	var a Assignment
	if err := mapstructure.Decode(m, &a); err != nil {
		return Assignment{}, invalidValue(raw, err.Error())
	}
	a.Key = strings.TrimSpace(a.Key)
	if a.Key == "" {
		return Assignment{}, invalidValue(raw, "missing key")
	}
	return a, nil
}

// coerce turns a textual scalar into null, bool, float64, int64 or string.
func coerce(v string) any {
	switch {
	case strings.EqualFold(v, "null"):
		return nil
	case strings.EqualFold(v, "true"):
		return true
	case strings.EqualFold(v, "false"):
		return false
	}
	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return v
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}

func invalidValue(raw, reason string) error {
	return domain.NewEngineError(domain.CodeInvalidRule,
		fmt.Sprintf("invalid action value %q: %s", raw, reason),
		map[string]any{"actionValue": raw})
}
