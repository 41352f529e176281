package utils_test

import (
	"testing"

	"github.com/NeuralTrust/TrustGuard/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abcd", 4},
		{"kitten", "sitting", 3},
		{"Mozilla/5.0", "mozilla/5.0", 0},
		{"curl/7.68.0", "curl/7.88.1", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, utils.LevenshteinDistance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestSimilar(t *testing.T) {
	assert.True(t, utils.Similar("curl/7.68.0", "curl/7.88.1", 2))
	assert.False(t, utils.Similar("curl/7.68.0", "Mozilla/5.0 (X11)", 2))
	assert.False(t, utils.Similar("", "", 2))
}

func TestParseUserAgent(t *testing.T) {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	info := utils.ParseUserAgent(ua, "en-US,en;q=0.9")
	assert.Equal(t, "Computer", info.Device)
	assert.Contains(t, info.Browser, "Chrome")
	assert.Equal(t, "en-US", info.Locale)
	assert.False(t, info.Bot)

	unknown := utils.ParseUserAgent("", "")
	assert.Equal(t, "Unknown", unknown.Device)
	assert.Equal(t, "", unknown.Locale)
}
