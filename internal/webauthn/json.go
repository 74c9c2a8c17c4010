package webauthn

import "strings"

// extractString is the same hand-rolled "find the key, find the next
// quoted string" extractor the original uses throughout its api_handler
// and webauthn translation units (extract_json_string), kept here
// rather than reused from internal/db since it operates on raw request
// bodies, not persisted rows.
func extractString(body []byte, key string) string {
	j := string(body)
	needle := `"` + key + `"`
	pos := strings.Index(j, needle)
	if pos < 0 {
		return ""
	}
	rest := j[pos+len(needle):]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return ""
	}
	rest = rest[colon+1:]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
