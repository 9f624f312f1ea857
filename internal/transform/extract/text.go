package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// extractPlain reads plain text, markdown and CSV verbatim.
func extractPlain(data []byte, mimeType string) (*Result, error) {
	text := strings.TrimSpace(string(data))
	metadata := map[string]interface{}{
		"mimeType": mimeType,
		"lines":    strings.Count(text, "\n") + 1,
	}
	return newResult(text, metadata), nil
}

// extractJSON re-serializes JSON with stable indentation so the derived
// text is readable and deterministic.
func extractJSON(data []byte) (*Result, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, fmt.Errorf("invalid json document: %w", err)
	}

	text := buf.String()
	metadata := map[string]interface{}{
		"mimeType": mimeJSON,
	}
	return newResult(text, metadata), nil
}
