package extract

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var (
	docxParaRe = regexp.MustCompile(`</w:p>`)
	docxTagRe  = regexp.MustCompile(`<[^>]+>`)
)

// extractDocx pulls the raw text out of a Word document. The library
// exposes the document body as WordprocessingML, so paragraph ends
// become newlines and the remaining markup is stripped.
func extractDocx(data []byte) (*Result, error) {
	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer reader.Close()

	content := reader.Editable().GetContent()

	text := docxParaRe.ReplaceAllString(content, "\n")
	text = docxTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.TrimSpace(text)

	metadata := map[string]interface{}{
		"mimeType": mimeDocx,
	}
	return newResult(text, metadata), nil
}
