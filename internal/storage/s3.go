package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docuflow/backend/internal/config"
)

// DefaultDownloadTTL bounds admin download URLs
const DefaultDownloadTTL = 15 * time.Minute

// unsafeChars matches everything outside the safe filename character set
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Broker issues presigned S3 URLs and builds deterministic object keys.
// The database only ever stores the key reference; file bytes live in S3.
type Broker struct {
	presigner  *s3.PresignClient
	bucket     string
	presignTTL time.Duration
}

// NewBroker builds a broker from the service configuration. A custom
// endpoint switches the client to path-style addressing for MinIO and
// LocalStack deployments.
func NewBroker(ctx context.Context, cfg *config.Config) (*Broker, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Broker{
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.S3Bucket,
		presignTTL: time.Duration(cfg.PresignTTLMinutes) * time.Minute,
	}, nil
}

// Bucket returns the bucket new uploads are written to
func (b *Broker) Bucket() string {
	return b.bucket
}

// SanitizeFileName reduces a client-supplied filename to a safe character
// set to prevent path traversal and key injection.
func SanitizeFileName(fileName string) string {
	name := strings.TrimSpace(fileName)
	// Strip any path components the client smuggled in
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	return name
}

// GenerateKey deterministically builds the hierarchical object key
// uploads/{clientId}/{uploadLinkId}/{timestamp}-{sanitizedFileName}.
// The embedded timestamp keeps repeated identical filenames unique.
func GenerateKey(clientID uint, uploadLinkID, fileName string) string {
	return fmt.Sprintf("uploads/%d/%s/%d-%s", clientID, uploadLinkID, time.Now().UnixMilli(), SanitizeFileName(fileName))
}

// PresignUpload issues a short-lived PUT URL scoped to the exact content
// type and length, so the storage layer itself rejects content-type
// smuggling and oversized uploads.
func (b *Broker) PresignUpload(ctx context.Context, key, contentType string, contentLength int64) (string, error) {
	req, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(contentLength),
	}, s3.WithPresignExpires(b.presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign put object: %w", err)
	}
	return req.URL, nil
}

// PresignDownload issues a time-boxed GET URL for admin downloads
func (b *Broker) PresignDownload(ctx context.Context, key, bucket string, ttl time.Duration) (string, error) {
	if bucket == "" {
		bucket = b.bucket
	}
	if ttl <= 0 {
		ttl = DefaultDownloadTTL
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign get object: %w", err)
	}
	return req.URL, nil
}
