package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used for import artifacts
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Client stores uploaded source files, error reports and raw AI responses
type S3Client struct {
	client s3API
	cfg    S3Config
}

// S3Config holds configuration for S3 client
type S3Config struct {
	BucketName   string
	Region       string
	Profile      string // AWS profile to use
	UploadPrefix string
	ReportPrefix string
	RawPrefix    string
}

// S3UploadResult represents the result of an S3 upload operation
type S3UploadResult struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ContentType string    `json:"content_type"`
	PublicURL   string    `json:"public_url"`
}

// NewS3Client creates an S3 client with the default credential chain
func NewS3Client(ctx context.Context, s3Config S3Config) (*S3Client, error) {
	var opts []func(*config.LoadOptions) error
	if s3Config.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(s3Config.Profile))
	}
	if s3Config.Region != "" {
		opts = append(opts, config.WithRegion(s3Config.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	s3Config.Region = cfg.Region

	return NewS3ClientWithAPI(s3.NewFromConfig(cfg), s3Config), nil
}

// NewS3ClientWithAPI wraps an existing client
func NewS3ClientWithAPI(api s3API, s3Config S3Config) *S3Client {
	if s3Config.UploadPrefix == "" {
		s3Config.UploadPrefix = "import-uploads/"
	}
	if s3Config.ReportPrefix == "" {
		s3Config.ReportPrefix = "import-reports/"
	}
	if s3Config.RawPrefix == "" {
		s3Config.RawPrefix = "ai-raw/"
	}
	return &S3Client{client: api, cfg: s3Config}
}

// UploadKey is the object key of a staged source file
func (s *S3Client) UploadKey(tenantID, runID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return s.cfg.UploadPrefix + tenantID + "/" + runID + "/" + name
}

// ReportKey is the object key of a run's error report
func (s *S3Client) ReportKey(tenantID, runID string) string {
	return s.cfg.ReportPrefix + tenantID + "/" + runID + ".csv"
}

// UploadSource stages an uploaded file for the asynchronous worker
func (s *S3Client) UploadSource(ctx context.Context, tenantID, runID, fileName string, data []byte) (*S3UploadResult, error) {
	return s.put(ctx, s.UploadKey(tenantID, runID, fileName), data, contentTypeFor(fileName))
}

// UploadReport stores a run's CSV error report
func (s *S3Client) UploadReport(ctx context.Context, tenantID, runID string, report []byte) (*S3UploadResult, error) {
	return s.put(ctx, s.ReportKey(tenantID, runID), report, "text/csv")
}

// ArchiveRaw stores an unusable oracle response and returns its key
func (s *S3Client) ArchiveRaw(ctx context.Context, runID string, batch int, raw string) (string, error) {
	key := fmt.Sprintf("%s%s/batch-%03d.txt", s.cfg.RawPrefix, runID, batch)
	if _, err := s.put(ctx, key, []byte(raw), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return key, nil
}

// Download reads an object. An empty bucket means the configured one.
func (s *S3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		bucket = s.cfg.BucketName
	}
	key = strings.TrimPrefix(key, "/")

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, nil
}

// GetBucketName returns the configured bucket
func (s *S3Client) GetBucketName() string {
	return s.cfg.BucketName
}

// GetPublicURL returns the virtual-hosted URL of a key
func (s *S3Client) GetPublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.BucketName, s.cfg.Region, key)
}

func (s *S3Client) put(ctx context.Context, key string, data []byte, contentType string) (*S3UploadResult, error) {
	// Ensure key doesn't start with /
	key = strings.TrimPrefix(key, "/")

	result, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"uploaded-by": "crm-import",
			"upload-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	return &S3UploadResult{
		Bucket:      s.cfg.BucketName,
		Key:         key,
		ETag:        strings.Trim(aws.ToString(result.ETag), `"`),
		Size:        int64(len(data)),
		UploadedAt:  time.Now(),
		ContentType: contentType,
		PublicURL:   s.GetPublicURL(key),
	}, nil
}

func contentTypeFor(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
