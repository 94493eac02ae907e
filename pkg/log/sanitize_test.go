package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeField_SensitiveKeys(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"password masked", "password", "supersecret123", "supe******t123"},
		{"redis password masked", "redis_password", "supersecret123", "supe******t123"},
		{"api key masked", "api_key", "sk-1234567890abcdef", "sk-1***********cdef"},
		{"token masked", "access_token", "tok_abcdefghij", "tok_******ghij"},
		{"authorization masked", "Authorization", "Bearer abcdef123456", "Bear***********3456"},
		{"short secret fully starred", "secret", "ab", "**"},
		{"short secret keeps edges", "secret", "abcdef", "a****f"},
		{"plain key untouched", "service", "azure-speech", "azure-speech"},
		{"empty value untouched", "password", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeField(tt.key, tt.value))
		})
	}
}

func TestSanitizeField_CaseInsensitiveKeyMatch(t *testing.T) {
	assert.Equal(t, "supe******t123", SanitizeField("PASSWORD", "supersecret123"))
	assert.Equal(t, "supe******t123", SanitizeField("Api_Key", "supersecret123"))
}
