package config

import (
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig

	textractOnce   sync.Once
	textractConfig *TextractConfig
)

// LaneSetting overrides the queue defaults for a single lane.
type LaneSetting struct {
	Priority          int `yaml:"priority"`
	Concurrency       int `yaml:"concurrency"`
	RetryLimit        int `yaml:"retryLimit"`
	RetryDelaySeconds int `yaml:"retryDelaySeconds"`
}

type PipelineConfig struct {
	// EnableOCR gates whether OCR jobs are auto-enqueued as a fallback
	// for images and scanned documents.
	EnableOCR bool
	// OCRProvider selects the OCR engine: "local" or "textract".
	OCRProvider string
	// OCRLanguage is the tesseract language code for the local engine.
	OCRLanguage string
	// Lanes holds per-lane overrides loaded from PIPELINE_CONFIG (yaml).
	Lanes map[string]LaneSetting `yaml:"lanes"`
}

type TextractConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	// MinCallInterval is the minimum spacing between Textract calls,
	// in milliseconds.
	MinCallIntervalMs int
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()

		pipelineConfig = &PipelineConfig{
			EnableOCR:   getEnvBool("ENABLE_OCR", false),
			OCRProvider: getEnv("OCR_PROVIDER", "local"),
			OCRLanguage: getEnv("OCR_LANGUAGE", "eng"),
			Lanes:       make(map[string]LaneSetting),
		}

		path := os.Getenv("PIPELINE_CONFIG")
		if path == "" {
			return
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: can't read pipeline config %s: %v", path, err)
			return
		}

		var fileCfg struct {
			Lanes map[string]LaneSetting `yaml:"lanes"`
		}
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			log.Printf("Warning: can't parse pipeline config %s: %v", path, err)
			return
		}
		pipelineConfig.Lanes = fileCfg.Lanes
	})
	return pipelineConfig
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()

		textractConfig = &TextractConfig{
			Region:            getEnv("AWS_REGION", "us-east-1"),
			AccessKey:         getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:         getEnv("AWS_SECRET_KEY", ""),
			MinCallIntervalMs: getEnvInt("TEXTRACT_MIN_INTERVAL_MS", 1000),
		}
	})
	return textractConfig
}
