package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// r2Region is the region S3-compatible stores such as Cloudflare R2 expect.
const r2Region = "auto"

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Mirror uploads artifacts to <bucket>/<prefix>/<name>.
type S3Mirror struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

var _ Mirror = (*S3Mirror)(nil)

func NewS3Mirror(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Mirror, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, errors.New("s3 access key and secret key must be set together")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" && cfg.Endpoint != "" {
		region = r2Region
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Mirror(client, cfg, logger), nil
}

func newS3Mirror(client putObjectAPI, cfg S3Config, logger *zap.Logger) *S3Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &S3Mirror{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		logger: logger,
	}
}

func (m *S3Mirror) Put(ctx context.Context, name string, data []byte) error {
	key := m.Key(name)

	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", m.bucket, key, err)
	}

	m.logger.Debug("artifact mirrored",
		zap.String("bucket", m.bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)

	return nil
}

// Key returns the object key used for an artifact name.
func (m *S3Mirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}
