package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"passport.pdf", "passport.pdf"},
		{"  tax return 2025.pdf ", "tax_return_2025.pdf"},
		{"../../etc/passwd", "passwd"},
		{"..\\..\\windows\\system32\\cmd.exe", "cmd.exe"},
		{"résumé.pdf", "r_sum_.pdf"},
		{"photo (1).jpg", "photo__1_.jpg"},
		{"...", "file"},
		{"", "file"},
		{"///", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFileName(tt.in))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	key := GenerateKey(7, "link-abc", "scan.pdf")

	assert.True(t, strings.HasPrefix(key, "uploads/7/link-abc/"), key)
	assert.True(t, strings.HasSuffix(key, "-scan.pdf"), key)
	assert.NotContains(t, key, "..")
}

func TestGenerateKeyNeutralizesTraversal(t *testing.T) {
	key := GenerateKey(7, "link-abc", "../../../etc/passwd")

	assert.True(t, strings.HasPrefix(key, "uploads/7/link-abc/"), key)
	assert.Equal(t, 3, strings.Count(key, "/"), "traversal input must not add path segments: %s", key)
}
