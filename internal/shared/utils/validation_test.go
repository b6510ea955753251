package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "0b6f2c1e-7a1d-4c57-9b2a-3f0d3c1e9a10", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "session_id", true)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"flat", "index.tsx", false},
		{"nested", "components/Button.jsx", false},
		{"scoped", "@scope/pkg/index.js", false},
		{"absolute", "/etc/passwd", true},
		{"parent", "../secret.js", true},
		{"unclean", "a//b.js", true},
		{"dot segment", "a/./b.js", true},
		{"space", "my file.js", true},
		{"null byte", "a\x00.js", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFiles(t *testing.T) {
	assert.NoError(t, ValidateFiles(map[string]string{"index.js": ""}, true))
	assert.NoError(t, ValidateFiles(nil, false))
	assert.Error(t, ValidateFiles(nil, true))
	assert.Error(t, ValidateFiles(map[string]string{"../x.js": ""}, true))
	assert.Error(t, ValidateFiles(map[string]string{"big.js": strings.Repeat("a", MaxFileSize+1)}, true))
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("Counter demo"))
	assert.Error(t, ValidateTitle(strings.Repeat("t", MaxTitleLength+1)))
}
