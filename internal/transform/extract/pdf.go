package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// pdfMaxWorkers bounds page-level parallelism inside one extraction.
const pdfMaxWorkers = 4

// extractPDF concatenates per-page text in page order and collects
// document metadata from the trailer.
func extractPDF(ctx context.Context, data []byte) (*Result, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	pageTexts := make([]string, numPages)

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, pdfMaxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			pageTexts[pageNum-1] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, text := range pageTexts {
		sb.WriteString(text)
	}

	metadata := map[string]interface{}{
		"pages":    numPages,
		"mimeType": mimePDF,
	}
	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		info := trailer.Key("Info")
		if !info.IsNull() {
			if title := info.Key("Title"); !title.IsNull() {
				metadata["title"] = title.String()
			}
			if author := info.Key("Author"); !author.IsNull() {
				metadata["author"] = author.String()
			}
		}
	}

	return newResult(strings.TrimSpace(sb.String()), metadata), nil
}
