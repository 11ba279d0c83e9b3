// Package s3storage stores package tarballs in an S3-compatible bucket
// (AWS S3, MinIO). Keys are "<prefix><package>/<filename>".
package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "s3-storage"

var tracer = otel.Tracer("github.com/platinummonkey/wharf/pkg/plugins/builtin/s3storage")

// Config holds the bucket and credentials
type Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"bucket":     {Type: plugins.TypeString, Required: true},
		"region":     {Type: plugins.TypeString},
		"prefix":     {Type: plugins.TypeString},
		"endpoint":   {Type: plugins.TypeString},
		"path_style": {Type: plugins.TypeBoolean},
		"access_key": {Type: plugins.TypeString, Nullable: true},
		"secret_key": {Type: plugins.TypeString, Nullable: true},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:         Module,
		ConfigRequired: true,
		ConfigSchema:   schema,
		Provides:       map[plugins.Capability]string{plugins.CapabilityStorage: "s3"},
		Init:           initStorage,
	}
}

func initStorage(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	cfg := Config{Region: "us-east-1"}
	if err := p.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	return New(ctx, cfg, p.Log())
}

// Storage keeps tarballs in one bucket
type Storage struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logrus.Entry
}

// New builds the S3 client. Static credentials are used when both keys are
// set, the default credential chain otherwise. No request is made until
// the first operation.
func New(ctx context.Context, cfg Config, log *logrus.Entry) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if log == nil {
		log = plugins.InitParams{}.Log()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		// MinIO and older gateways reject the default trailing checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log.WithFields(logrus.Fields{
		"bucket":   cfg.Bucket,
		"endpoint": cfg.Endpoint,
	}).Info("Configured S3 storage")

	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// Type implements plugins.Instance
func (s *Storage) Type() plugins.Capability {
	return plugins.CapabilityStorage
}

func (s *Storage) key(pkg, filename string) string {
	return s.prefix + pkg + "/" + filename
}

// PutTarball uploads content
func (s *Storage) PutTarball(ctx context.Context, pkg, filename string, content io.Reader) error {
	key := s.key(pkg, filename)
	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}

	span.SetStatus(codes.Ok, "object uploaded")
	return nil
}

// GetTarball downloads a tarball, or returns plugins.ErrNotFound
func (s *Storage) GetTarball(ctx context.Context, pkg, filename string) (io.ReadCloser, error) {
	key := s.key(pkg, filename)
	ctx, span := tracer.Start(ctx, "S3.GetObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("tarball %s: %w", key, plugins.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object from s3")
		return nil, fmt.Errorf("failed to get %s from s3: %w", key, err)
	}

	if result.ContentLength != nil {
		span.SetAttributes(attribute.Int64("content.size", *result.ContentLength))
	}
	span.SetStatus(codes.Ok, "object retrieved")
	return result.Body, nil
}

// HealthCheck verifies the bucket is reachable
func (s *Storage) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
