package ingest

import (
	"mime"
	"strings"
)

// FileCategory is the closed classification every incoming MIME type
// maps onto. The dispatcher switches exhaustively over it, so a new
// category cannot be added without handling it.
type FileCategory int

const (
	CategoryImage FileCategory = iota
	CategoryTextExtractable
	CategoryUnsupported
)

func (c FileCategory) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryTextExtractable:
		return "text-extractable"
	default:
		return "unsupported"
	}
}

const (
	mimePDF  = "application/pdf"
	mimeDoc  = "application/msword"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeJSON = "application/json"
)

// Classify maps a MIME type onto its file category. Computed once per
// ingestion; everything downstream branches on the category, not the
// raw string.
func Classify(mimeType string) FileCategory {
	mt := normalizeMime(mimeType)

	switch {
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case mt == mimePDF, mt == mimeDoc, mt == mimeDocx, mt == mimeJSON:
		return CategoryTextExtractable
	case strings.HasPrefix(mt, "text/"):
		// Covers plain text, markdown and CSV.
		return CategoryTextExtractable
	default:
		return CategoryUnsupported
	}
}

func normalizeMime(mimeType string) string {
	parsed, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return parsed
}
