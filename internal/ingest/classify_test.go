package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		mimeType string
		want     FileCategory
	}{
		{"image/png", CategoryImage},
		{"image/jpeg", CategoryImage},
		{"image/webp", CategoryImage},
		{"image/gif", CategoryImage},
		{"application/pdf", CategoryTextExtractable},
		{"application/msword", CategoryTextExtractable},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", CategoryTextExtractable},
		{"application/json", CategoryTextExtractable},
		{"text/plain", CategoryTextExtractable},
		{"text/markdown", CategoryTextExtractable},
		{"text/csv", CategoryTextExtractable},
		{"text/plain; charset=utf-8", CategoryTextExtractable},
		{"IMAGE/PNG", CategoryImage},
		{"application/zip", CategoryUnsupported},
		{"video/mp4", CategoryUnsupported},
		{"application/octet-stream", CategoryUnsupported},
		{"", CategoryUnsupported},
		{"garbage", CategoryUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.mimeType))
		})
	}
}

func TestFileCategoryString(t *testing.T) {
	assert.Equal(t, "image", CategoryImage.String())
	assert.Equal(t, "text-extractable", CategoryTextExtractable.String())
	assert.Equal(t, "unsupported", CategoryUnsupported.String())
}
