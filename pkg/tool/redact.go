package tool

import (
	"regexp"
	"strings"
)

// deniedKeys is the exact-match (case-insensitive) deny-set from spec §4.6.
var deniedKeys = map[string]struct{}{
	"internal":       {},
	"debug":          {},
	"secrets":        {},
	"tokens":         {},
	"token":          {},
	"key":            {},
	"api_key":        {},
	"secret":         {},
	"db_id":          {},
	"user_id":        {},
	"service_config": {},
}

// deniedPattern catches credential-shaped keys the exact deny-set misses.
var deniedPattern = regexp.MustCompile(`(?i)(token|secret|api[_-]?key|private[_-]?key|password|cookie|authorization)`)

// RedactDeep walks an arbitrary decoded-JSON value (map[string]any,
// []any, or a primitive) and drops every object key that is in the deny-set
// or matches deniedPattern, recursing into nested objects and arrays.
// Primitives pass through unchanged. The default is to drop the entry
// entirely, never to rewrite its value — conservative by construction.
func RedactDeep(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if isDeniedKey(k) {
				continue
			}
			out[k] = RedactDeep(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = RedactDeep(child)
		}
		return out
	default:
		return val
	}
}

func isDeniedKey(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := deniedKeys[lower]; ok {
		return true
	}
	return deniedPattern.MatchString(lower)
}
