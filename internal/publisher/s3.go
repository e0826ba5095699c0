package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johnayoung/go-kline-archiver/internal/config"
)

const parquetContentType = "application/vnd.apache.parquet"

// Uploader is the subset of the S3 upload manager used by S3Publisher.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher uploads files to an S3-compatible bucket.
type S3Publisher struct {
	uploader Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewS3Publisher creates an S3 publisher using the default AWS credential chain.
// A custom endpoint enables S3-compatible stores.
func NewS3Publisher(ctx context.Context, cfg config.PublisherConfig, logger *slog.Logger) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 publisher requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3PublisherWithUploader(manager.NewUploader(client), cfg.Bucket, cfg.Prefix, logger), nil
}

// NewS3PublisherWithUploader creates an S3 publisher around an existing uploader.
func NewS3PublisherWithUploader(uploader Uploader, bucket, prefix string, logger *slog.Logger) *S3Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Publisher{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		logger:   logger,
	}
}

// Publish implements Publisher.
func (p *S3Publisher) Publish(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	objectKey := joinPrefix(p.prefix, key)
	start := time.Now()

	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectKey),
		Body:        f,
		ContentType: aws.String(parquetContentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", p.bucket, objectKey, err)
	}

	p.logger.Info("published file",
		"bucket", p.bucket,
		"key", objectKey,
		"location", out.Location,
		"duration", time.Since(start))
	return nil
}
