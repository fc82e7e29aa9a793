// Package config loads the environment-driven settings surface in the
// env-first style appropriate for long-running services.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the full environment surface. Every field has at least one
// reader somewhere in the module; none is carried for documentation
// purposes only.
type Config struct {
	SecretKey    string
	Algorithm    string
	BackendLocal bool

	AuthServiceURL       string
	FilesServiceURL      string
	YOLOv8ServiceURL     string
	AnnotationServiceURL string

	AnalysisDatabaseURL string
	RabbitMQURL         string
	QueueName           string
	UpdatesExchange     string

	MaxBatchFiles      int
	MaxBatchSizeBytes  int64
	PreviewLimit       int
	UploadPreviewLimit int
	MaxYOLOFileSizeMB  int
}

const (
	defaultAlgorithm          = "HS256"
	defaultQueueName          = "analysis_tasks"
	defaultUpdatesExchange    = "analysis_updates"
	defaultMaxBatchFiles      = 50000
	defaultMaxBatchSizeBytes  = 10 * 1024 * 1024 * 1024 // 10 GiB
	defaultPreviewLimit       = 10
	defaultUploadPreviewLimit = 10
	defaultMaxYOLOFileSizeMB  = 512
)

// Load reads the Config from the process environment, applying the
// defaults for any unset numeric/optional variable.
func Load() (*Config, error) {
	c := &Config{
		SecretKey:    os.Getenv("SECRET_KEY"),
		Algorithm:    envOrDefault("ALGORITHM", defaultAlgorithm),
		BackendLocal: envBool("BACKEND_LOCAL", false),

		AuthServiceURL:       os.Getenv("AUTH_SERVICE_URL"),
		FilesServiceURL:      os.Getenv("FILES_SERVICE_URL"),
		YOLOv8ServiceURL:     os.Getenv("YOLOV8_SERVICE_URL"),
		AnnotationServiceURL: os.Getenv("ANNOTATION_SERVICE_URL"),

		AnalysisDatabaseURL: os.Getenv("ANALYSIS_DATABASE_URL"),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		QueueName:           envOrDefault("ANALYSIS_QUEUE_NAME", defaultQueueName),
		UpdatesExchange:     envOrDefault("ANALYSIS_UPDATES_EXCHANGE", defaultUpdatesExchange),
	}

	var err error
	if c.MaxBatchFiles, err = envInt("MAX_BATCH_FILES", defaultMaxBatchFiles); err != nil {
		return nil, err
	}
	if c.MaxBatchSizeBytes, err = envInt64("MAX_BATCH_SIZE_BYTES", defaultMaxBatchSizeBytes); err != nil {
		return nil, err
	}
	if c.PreviewLimit, err = envInt("PREVIEW_LIMIT", defaultPreviewLimit); err != nil {
		return nil, err
	}
	if c.UploadPreviewLimit, err = envInt("UPLOAD_PREVIEW_LIMIT", defaultUploadPreviewLimit); err != nil {
		return nil, err
	}
	if c.MaxYOLOFileSizeMB, err = envInt("MAX_YOLO_FILE_SIZE_MB", defaultMaxYOLOFileSizeMB); err != nil {
		return nil, err
	}

	return c, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}
