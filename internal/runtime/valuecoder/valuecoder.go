// Package valuecoder coerces untyped, stringly-typed HTTP query values into
// scalars and parses raw query strings into parameter maps.
package valuecoder

import (
	"net/url"
	"strconv"
	"strings"
)

// ParseScalar returns true for "true", false for "false", nil for "null",
// "undefined" or an empty string, a float64 if v is a numeric string, and
// otherwise the URL-decoded string. Decode failures fail open to the
// original string so the function is total: it never errors.
func ParseScalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null", "undefined", "":
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	decoded, err := url.QueryUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}

// ParseQuery splits a raw query string on "&" then "=", skips pairs with an
// empty key or empty value, coerces each value through ParseScalar, and
// returns the resulting map. Duplicate keys: last one wins. Empty or absent
// input yields an empty map.
func ParseQuery(q string) map[string]any {
	out := make(map[string]any)
	q = strings.TrimPrefix(q, "?")
	if q == "" {
		return out
	}
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" || value == "" {
			continue
		}
		out[key] = ParseScalar(value)
	}
	return out
}
