package buildcache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store shares stage keys between builders through an S3 bucket, so CI
// machines that never built a project locally can still see cache hits.
type S3Store struct {
	bucket     string
	prefix     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Store connects to the bucket using the ambient AWS credential chain.
func NewS3Store(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		bucket:     bucket,
		prefix:     prefix,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (s *S3Store) key(project string, stage Stage) string {
	return path.Join(s.prefix, project, string(stage))
}

func (s *S3Store) Get(ctx context.Context, project string, stage Stage) (string, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(project, stage)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return "", ErrNoKey
		}
		return "", fmt.Errorf("failed to download cache key: %w", err)
	}
	return strings.TrimSpace(string(buf.Bytes())), nil
}

func (s *S3Store) Put(ctx context.Context, project string, stage Stage, key string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(project, stage)),
		Body:   strings.NewReader(key + "\n"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload cache key: %w", err)
	}
	return nil
}
