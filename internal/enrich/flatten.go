package enrich

import (
	"encoding/json"
	"strconv"
)

// Flatten decodes a JSON document into dotted/indexed keys with scalar
// string values: {"a":{"b":1},"c":[true]} becomes {"a.b":"1","c.0":"true"}.
// Null values are dropped. A non-JSON document yields an error.
func Flatten(body []byte) (map[string]string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]string)
	flattenInto("", doc, out)
	return out, nil
}

func flattenInto(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(joinKey(prefix, k), child, out)
		}
	case []any:
		for i, child := range t {
			flattenInto(joinKey(prefix, strconv.Itoa(i)), child, out)
		}
	case string:
		if prefix != "" {
			out[prefix] = t
		}
	case float64:
		if prefix != "" {
			out[prefix] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	case bool:
		if prefix != "" {
			out[prefix] = strconv.FormatBool(t)
		}
	case nil:
		// dropped
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
