package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ironlotus/gymsite/internal/pkg/config"
)

// objectPutter is the part of the S3 client the archive needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes verified webhook bodies to an S3-compatible bucket, one
// object per event.
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	log    *zap.Logger
}

// NewS3Archive builds the S3 client from static credentials. A custom
// endpoint (MinIO, Backblaze B2) switches to path-style addressing.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (*S3Archive, error) {
	if !cfg.Enabled {
		return nil, errors.New("payload archive is disabled")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archive(client, cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Archive(client objectPutter, bucket, prefix string, log *zap.Logger) *S3Archive {
	if log == nil {
		log = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "stripe"
	}
	return &S3Archive{client: client, bucket: bucket, prefix: prefix, log: log}
}

// ObjectKey returns <prefix>/YYYY/MM/DD/<event id>.json for the UTC receive date.
func (a *S3Archive) ObjectKey(eventID string, receivedAt time.Time) string {
	return path.Join(a.prefix, receivedAt.UTC().Format("2006/01/02"), eventID+".json")
}

// Archive stores the raw payload. Redelivered events overwrite the same key.
func (a *S3Archive) Archive(ctx context.Context, eventID string, receivedAt time.Time, payload []byte) error {
	key := a.ObjectKey(eventID, receivedAt)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata: map[string]string{
			"event-id":      eventID,
			"upload-source": "gymsite-webhook",
		},
	})
	if err != nil {
		return fmt.Errorf("archive s3://%s/%s: %w", a.bucket, key, err)
	}
	a.log.Debug("webhook payload archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return nil
}
