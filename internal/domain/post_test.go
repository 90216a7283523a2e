package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 Bytes"},
		{512, "512 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5 MB"},
		{1288490189, "1.2 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.bytes), "bytes=%d", tt.bytes)
	}
}

func TestPostOrphan(t *testing.T) {
	empty := ""
	text := "hello"

	assert.True(t, (&Post{}).IsOrphan())
	assert.True(t, (&Post{Content: &empty}).IsOrphan())
	assert.False(t, (&Post{Content: &text}).IsOrphan())
	assert.False(t, (&Post{Files: []Asset{{ID: 1}}}).IsOrphan())
}

func TestNormalizeContent(t *testing.T) {
	assert.Nil(t, NormalizeContent(""))
	assert.Nil(t, NormalizeContent("  \n\t"))

	content := NormalizeContent(" hi ")
	if assert.NotNil(t, content) {
		assert.Equal(t, " hi ", *content)
	}
}

func TestSweepReport(t *testing.T) {
	var r SweepReport
	assert.False(t, r.Changed())

	r.AddAssets(ImageKind, 2)
	r.AddAssets(FileKind, 1)
	assert.Equal(t, int64(2), r.ImagesDeleted)
	assert.Equal(t, int64(1), r.FilesDeleted)
	assert.True(t, r.Changed())

	// 仅有 Blob 删除失败不算内容变更
	assert.False(t, SweepReport{BlobFailures: 3}.Changed())
}
