// Package s3 implements the storage.Transport interface for AWS S3 and S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/treonstudio/chatuploads/internal/storage"
)

const (
	// defaultPartSize is the size for S3 multipart upload parts (5MB minimum)
	defaultPartSize = 5 * 1024 * 1024

	// defaultConcurrency is the number of parts uploaded in parallel per transfer
	defaultConcurrency = 3
)

// S3Config holds configuration for the S3 transport.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool   // Use path-style addressing (required for MinIO)
	PartSizeMB      int    // Multipart part size (0 = 5MB)
	PublicURL       string // Optional base URL (CDN) used to build returned URLs
	SkipBucketCheck bool   // Skip the HEAD bucket probe at construction
}

// S3Transport implements storage.Transport for AWS S3 and S3-compatible storage.
type S3Transport struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	publicURL string
}

// Ensure S3Transport implements storage.Transport
var _ storage.Transport = (*S3Transport)(nil)

// NewS3Transport creates a new S3Transport with the given configuration.
func NewS3Transport(ctx context.Context, cfg S3Config) (*S3Transport, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	partSize := int64(defaultPartSize)
	if cfg.PartSizeMB > 0 {
		partSize = int64(cfg.PartSizeMB) * 1024 * 1024
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = defaultConcurrency
	})

	if !cfg.SkipBucketCheck {
		_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(cfg.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
		}
	}

	slog.Info("S3 transport initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
		"part_size", partSize,
	)

	return &S3Transport{
		client:    client,
		uploader:  uploader,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// Name identifies the backend.
func (s *S3Transport) Name() string {
	return "s3"
}

// Upload streams the payload to S3 with the multipart uploader.
// Progress tracks bytes handed to the uploader; cancellation aborts the multipart upload.
func (s *S3Transport) Upload(ctx context.Context, req storage.TransferRequest, progress storage.ProgressFunc) (string, error) {
	key := storage.ObjectKey(req)
	if err := validateKey(key); err != nil {
		return "", &storage.TransportError{Op: "Upload", Key: key, Err: err, Message: "key validation failed"}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   storage.NewProgressReader(ctx, req.Body, req.Size, progress),
	}
	if req.MimeType != "" {
		input.ContentType = aws.String(req.MimeType)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, storage.ErrTransferAborted) {
			return "", storage.NewTransportError("Upload", key, storage.ErrTransferAborted)
		}
		return "", storage.NewTransportError("Upload", key, err)
	}

	url := s.objectURL(key, out.Location)
	slog.Debug("payload stored in S3",
		"upload_id", req.UploadID,
		"key", key,
		"size", req.Size,
	)
	return url, nil
}

// objectURL prefers the configured public base URL over the uploader's location.
func (s *S3Transport) objectURL(key, location string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	if location != "" {
		return location
	}
	return "s3://" + s.bucket + "/" + key
}

// HealthCheck verifies that the bucket is accessible by performing a HEAD request.
func (s *S3Transport) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return &storage.TransportError{Op: "HealthCheck", Key: s.bucket, Err: err, Message: "S3 bucket not accessible"}
	}
	return nil
}

// validateKey ensures the S3 key doesn't contain path traversal or dangerous characters.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("null bytes not allowed in key")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("path traversal not allowed: %s", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("invalid key: %s", key)
	}
	return nil
}
