package security

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain ascii", "report-2024_v1.pdf", "report-2024_v1.pdf"},
		{"han characters kept", "报告 终稿.docx", "报告终稿.docx"},
		{"path traversal stripped", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\me\photo.png`, "photo.png"},
		{"control characters", "a\x00b\nc.txt", "abc.txt"},
		{"double dots collapsed", "a..b...c", "a.b.c"},
		{"leading dots", "...hidden", "hidden"},
		{"nothing left", "$$$", "unnamed"},
		{"empty", "", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input))
		})
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	long := strings.Repeat("文", 100) + ".jpg"

	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), maxFilenameBytes-32)
	assert.True(t, strings.HasSuffix(got, ".jpg"))
	assert.NoError(t, ValidateStoredName(got))
}

func TestGenerateStoredName(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	a := GenerateStoredName("我的 图片.png", now)
	b := GenerateStoredName("我的 图片.png", now)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "_我的图片.png"))
	assert.NoError(t, ValidateStoredName(a))
}

func TestValidateStoredName(t *testing.T) {
	assert.NoError(t, ValidateStoredName("18c2f1a2b3c4d5e6_photo.png"))

	for _, name := range []string{"", "../secret", ".env", "a/b.png", `a\b.png`, "a b.png", strings.Repeat("x", 201)} {
		assert.ErrorIs(t, ValidateStoredName(name), ErrInvalidFilename, name)
	}
}

func TestSniffImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32))

	t.Run("png detected and content preserved", func(t *testing.T) {
		r, contentType, ok, err := SniffImage(bytes.NewReader(png))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "image/png", contentType)

		all, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, png, all)
	})

	t.Run("text rejected", func(t *testing.T) {
		_, contentType, ok, err := SniffImage(strings.NewReader("<html><script>alert(1)</script></html>"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Contains(t, contentType, "text/html")
	})

	t.Run("svg and heic accepted", func(t *testing.T) {
		svg := `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`
		_, contentType, ok, err := SniffImage(strings.NewReader(svg))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "image/svg+xml", contentType)

		heic := append([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic"), make([]byte, 64)...)
		_, contentType, ok, err = SniffImage(bytes.NewReader(heic))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "image/heic", contentType)
	})

	t.Run("unknown binary accepted", func(t *testing.T) {
		_, contentType, ok, err := SniffImage(bytes.NewReader([]byte{0x13, 0x37, 0x9f, 0xfe, 0x00, 0x01, 0x02}))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "application/octet-stream", contentType)
	})

	t.Run("archive and plain text rejected", func(t *testing.T) {
		zip := append([]byte("PK\x03\x04"), make([]byte, 64)...)
		_, contentType, ok, err := SniffImage(bytes.NewReader(zip))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "application/zip", contentType)

		_, _, ok, err = SniffImage(strings.NewReader("just some words"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty input", func(t *testing.T) {
		_, _, ok, err := SniffImage(strings.NewReader(""))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "photo <1>.png", DisplayName(`C:\tmp\photo <1>.png`))
	assert.Equal(t, "ab.txt", DisplayName("a\x00b.txt"))
	assert.Equal(t, "unnamed", DisplayName("   "))
	assert.Equal(t, "unnamed", DisplayName(""))
	assert.LessOrEqual(t, len(DisplayName(strings.Repeat("名", 200)+".txt")), 255)
}
