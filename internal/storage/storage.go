// Package storage archives sync reports in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewConfig),
	fx.Provide(NewService),
)

// ErrDisabled is returned by every operation when storage is not configured.
var ErrDisabled = errors.New("storage not configured")

// Config holds storage configuration
type Config struct {
	Endpoint  string `env:"STORAGE_ENDPOINT"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET_SYNC_REPORTS" envDefault:"crm-sync-reports"`
}

// Enabled returns true if storage is properly configured
func (c *Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}

// NewConfig loads storage configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse storage config: %w", err)
	}
	return cfg, nil
}

// Service stores JSON documents in one bucket
type Service struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     *slog.Logger
}

// Object describes a stored object.
type Object struct {
	Key    string `json:"key"`
	Bucket string `json:"bucket"`
	ETag   string `json:"etag,omitempty"`
	Size   int64  `json:"size"`
}

// NewService creates the storage service. Without configuration it returns
// a disabled service rather than an error.
func NewService(cfg *Config, log *slog.Logger) (*Service, error) {
	log = log.With(logger.Scope("storage"))
	if !cfg.Enabled() {
		log.Info("report storage disabled (STORAGE_ENDPOINT not set)")
		return &Service{bucket: cfg.Bucket, log: log}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is what MinIO and most S3 clones expect.
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	log.Info("report storage initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket))

	return &Service{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		log:     log,
	}, nil
}

// Enabled returns true if the storage service is properly configured
func (s *Service) Enabled() bool {
	return s.client != nil
}

// PutJSON marshals v and stores it under key.
func (s *Service) PutJSON(ctx context.Context, key string, v any) (*Object, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		s.log.Error("failed to upload object", slog.String("key", key), logger.Error(err))
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	obj := &Object{Key: key, Bucket: s.bucket, Size: int64(len(data))}
	if out.ETag != nil {
		obj.ETag = strings.Trim(*out.ETag, `"`)
	}
	return obj, nil
}

// Get opens the object stored under key.
func (s *Service) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return out.Body, nil
}

// Exists reports whether key is stored.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	if !s.Enabled() {
		return false, ErrDisabled
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object failed: %w", err)
	}
	return true, nil
}

// PresignGet returns a time-limited download URL for key.
func (s *Service) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if expires <= 0 {
		expires = 15 * time.Minute
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}
	return req.URL, nil
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	underscores = regexp.MustCompile(`_{2,}`)
)

// SanitizeSegment makes s safe to use as one path segment of a key.
func SanitizeSegment(s string) string {
	out := unsafeChars.ReplaceAllString(s, "_")
	out = underscores.ReplaceAllString(out, "_")
	out = strings.ToLower(strings.Trim(out, "_"))
	if len(out) > 200 {
		out = out[:200]
	}
	if out == "" {
		return "unnamed"
	}
	return out
}

// ReportKey builds the key a sync report is stored under:
// {org}/{provider}/{yyyy}/{mm}/{timestamp}-{runID}.json
func ReportKey(orgID, provider, runID string, finished time.Time) string {
	finished = finished.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%s-%s.json",
		SanitizeSegment(orgID),
		SanitizeSegment(provider),
		finished.Year(), int(finished.Month()),
		finished.Format("20060102T150405Z"),
		SanitizeSegment(runID))
}
