package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crawlforge/crawlforge/internal/config"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"Bearer  abc123 ", "abc123"},
		{"Basic abc123", ""},
		{"abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extractBearer(tt.header), tt.header)
	}
}

func TestVerifyDebugToken(t *testing.T) {
	m := &Middleware{cfg: &config.AuthConfig{DebugToken: "local-dev-token"}}

	id, err := m.verify("local-dev-token")
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.verify("some-other-token")
	assert.Error(t, err)
}

func TestVerifyRequiresSecret(t *testing.T) {
	m := &Middleware{cfg: &config.AuthConfig{}}
	_, err := m.verify("anything")
	assert.Error(t, err)
}
