package audit

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-hclog"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// S3Config contains configuration for the S3 audit sink.
type S3Config struct {
	Bucket    string `hcl:"bucket"`                   // Bucket name
	Region    string `hcl:"region,optional"`          // AWS region (default: "us-east-1")
	Prefix    string `hcl:"prefix,optional"`          // Key prefix (e.g., "dtmigrate/originals")
	Endpoint  string `hcl:"endpoint,optional"`        // Custom endpoint for S3-compatible services such as MinIO
	AccessKey string `hcl:"access_key,optional"`      // Access key ID; the default credential chain is used when empty
	SecretKey string `hcl:"secret_key,optional"`      // Secret access key
	Timeout   int    `hcl:"timeout_seconds,optional"` // Request timeout (default: 30)
}

// Validate validates the S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("access_key and secret_key must be set together")
	}
	return nil
}

// SetDefaults sets default values for optional configuration fields.
func (c *S3Config) SetDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// PutObjectAPI is the subset of the S3 client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads originals to an S3 bucket.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger hclog.Logger
}

// NewS3Sink creates a sink uploading through client.
func NewS3Sink(client PutObjectAPI, bucket, prefix string, logger hclog.Logger) *S3Sink {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.Named("audit-s3"),
	}
}

// NewS3SinkFromConfig creates an S3 client from cfg and a sink using it.
func NewS3SinkFromConfig(cfg *S3Config, logger hclog.Logger) (*S3Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 configuration: %w", err)
	}
	cfg.SetDefaults()

	awsCfg, err := createAWSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services generally require path-style addressing.
			o.UsePathStyle = true
		}
	})
	return NewS3Sink(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func createAWSConfig(cfg *S3Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	return config.LoadDefaultConfig(context.Background(), opts...)
}

// StoreOriginal implements Sink.
func (s *S3Sink) StoreOriginal(ctx context.Context, name string, content []byte) (string, error) {
	key := objectName(name)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(docxContentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload original of %q to s3://%s/%s: %w", name, s.bucket, key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.logger.Debug("stored original", "template", name, "location", location, "bytes", len(content))
	return location, nil
}
