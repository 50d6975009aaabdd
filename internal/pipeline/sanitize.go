package pipeline

import (
	"strings"

	"github.com/bytedance/sonic"
)

const _redacted = "***"

var _sensitiveKeys = map[string]struct{}{
	"appsecret":     {},
	"app_secret":    {},
	"authorization": {},
	"access_token":  {},
	"token":         {},
	"password":      {},
	"api_secret":    {},
	"hashkey":       {},
}

func isSensitiveKey(key string) bool {
	_, ok := _sensitiveKeys[strings.ToLower(key)]
	return ok
}

// sanitizeHeaders renders the header set as JSON with secret values
// replaced by a redaction marker.
func sanitizeHeaders(headers map[string]string) string {
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		if isSensitiveKey(k) {
			clean[k] = _redacted
			continue
		}
		clean[k] = v
	}
	out, err := sonic.MarshalString(clean)
	if err != nil {
		return "{}"
	}
	return out
}

// sanitizeBody renders the request body as JSON with sensitive fields
// redacted recursively. Bodies that fail to marshal are dropped rather
// than risking a secret leak.
func sanitizeBody(body any) string {
	if body == nil {
		return "{}"
	}
	raw, err := sonic.MarshalString(body)
	if err != nil {
		return "{}"
	}
	return sanitizeRaw(raw)
}

// sanitizeRaw redacts sensitive fields inside a JSON document. Non-JSON
// input is returned unchanged.
func sanitizeRaw(raw string) string {
	if raw == "" {
		return raw
	}
	var parsed any
	if err := sonic.UnmarshalString(raw, &parsed); err != nil {
		return raw
	}
	redact(parsed)
	out, err := sonic.MarshalString(parsed)
	if err != nil {
		return raw
	}
	return out
}

func redact(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if isSensitiveKey(k) {
				val[k] = _redacted
				continue
			}
			redact(child)
		}
	case []any:
		for _, child := range val {
			redact(child)
		}
	}
}
