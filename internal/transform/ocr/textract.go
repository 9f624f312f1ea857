package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"golang.org/x/time/rate"

	cfg "github.com/feichai0017/content-pipeline/config"
	"github.com/feichai0017/content-pipeline/pkg/logger"
)

// ProviderTextract is the AWS Textract engine.
const ProviderTextract = "textract"

// TextractEngine calls AWS Textract behind a minimum-inter-call rate
// limiter. Throttling is handled by delaying the call, not by failing
// the job.
type TextractEngine struct {
	client  *textract.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewTextractEngine(ctx context.Context, tcfg *cfg.TextractConfig, log logger.Logger) (*TextractEngine, error) {
	creds := credentials.NewStaticCredentialsProvider(
		tcfg.AccessKey,
		tcfg.SecretKey,
		"",
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(tcfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	interval := time.Duration(tcfg.MinCallIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	return &TextractEngine{
		client:  textract.NewFromConfig(awsCfg),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  log.Named("textract"),
	}, nil
}

func (e *TextractEngine) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	// Textract detects language itself; the parameter only matters for
	// the local engine.
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	result, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: image},
	})
	if err != nil {
		return "", fmt.Errorf("failed to detect document text: %w", err)
	}

	var lines []string
	for _, block := range result.Blocks {
		if block.BlockType == types.BlockTypeLine && block.Text != nil {
			lines = append(lines, *block.Text)
		}
	}

	e.logger.Debug("Textract call completed", logger.Int("lines", len(lines)))
	return strings.Join(lines, "\n"), nil
}
