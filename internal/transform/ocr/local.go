package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// ProviderLocal is the tesseract engine bundled with the worker.
const ProviderLocal = "local"

// LocalEngine runs tesseract in-process via gosseract. A fresh client
// per call keeps the engine stateless; the lane's concurrency bound
// stops concurrent tesseract instances from competing.
type LocalEngine struct{}

func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

func (e *LocalEngine) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if language != "" {
		if err := client.SetLanguage(language); err != nil {
			return "", fmt.Errorf("failed to set language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
