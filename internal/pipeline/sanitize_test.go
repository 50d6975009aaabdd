package pipeline

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHeaders(t *testing.T) {
	out := sanitizeHeaders(map[string]string{
		"Authorization": "Bearer live-token",
		"appkey":        "PSAPPKEY",
		"hashkey":       "signature",
		"Content-Type":  "application/json",
	})

	var parsed map[string]string
	require.NoError(t, sonic.UnmarshalString(out, &parsed))

	assert.Equal(t, "***", parsed["Authorization"])
	assert.Equal(t, "***", parsed["hashkey"])
	assert.Equal(t, "PSAPPKEY", parsed["appkey"], "the app key is an identifier, not a secret")
	assert.Equal(t, "application/json", parsed["Content-Type"])
}

func TestSanitizeBody_RedactsNestedSecrets(t *testing.T) {
	out := sanitizeBody(map[string]any{
		"grant_type": "client_credentials",
		"appsecret":  "very secret",
		"nested": map[string]any{
			"access_token": "tok",
			"note":         "visible",
		},
		"list": []any{
			map[string]any{"password": "hunter2"},
		},
	})

	var parsed map[string]any
	require.NoError(t, sonic.UnmarshalString(out, &parsed))

	assert.Equal(t, "***", parsed["appsecret"])
	assert.Equal(t, "client_credentials", parsed["grant_type"])

	nested := parsed["nested"].(map[string]any)
	assert.Equal(t, "***", nested["access_token"])
	assert.Equal(t, "visible", nested["note"])

	item := parsed["list"].([]any)[0].(map[string]any)
	assert.Equal(t, "***", item["password"])
}

func TestSanitizeRaw_NonJSONPassesThrough(t *testing.T) {
	assert.Equal(t, "plain text response", sanitizeRaw("plain text response"))
	assert.Equal(t, "", sanitizeRaw(""))
}

func TestSanitizeBody_NilBody(t *testing.T) {
	assert.Equal(t, "{}", sanitizeBody(nil))
}
