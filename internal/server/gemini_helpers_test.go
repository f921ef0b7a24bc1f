package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModelName(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "known copilot model",
			input:    "gpt-4o",
			expected: "gpt-4o",
		},
		{
			name:     "prefix is stripped",
			input:    "models/claude-sonnet-4",
			expected: "claude-sonnet-4",
		},
		{
			name:     "empty uses default",
			input:    "",
			expected: "gpt-4.1",
		},
		{
			name:     "gemini pro alias",
			input:    "gemini-3-pro-preview",
			expected: "gemini-2.5-pro",
		},
		{
			name:     "gemini flash has no equivalent",
			input:    "gemini-2.5-flash",
			expected: "gpt-4.1",
		},
		{
			name:     "unknown model passes through",
			input:    "some-new-model",
			expected: "some-new-model",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, normalizeModelName(tc.input, "gpt-4.1"))
		})
	}
}

func TestParseGeminiPath(t *testing.T) {
	model, action := parseGeminiPath("/v1beta/models/gpt-4o:streamGenerateContent")
	assert.Equal(t, "gpt-4o", model)
	assert.Equal(t, "streamGenerateContent", action)

	model, action = parseGeminiPath("/v1beta/models/gpt-4o")
	assert.Empty(t, model)
	assert.Empty(t, action)
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "UNAUTHENTICATED", statusName(http.StatusUnauthorized))
	assert.Equal(t, "RESOURCE_EXHAUSTED", statusName(http.StatusTooManyRequests))
	assert.Equal(t, "INTERNAL", statusName(http.StatusTeapot))
}
