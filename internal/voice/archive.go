package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fieldsync/internal/audio"
	"fieldsync/internal/config"
	"fieldsync/internal/services"
)

// Archiver keeps a copy of transcribed audio off the device.
type Archiver interface {
	Archive(ctx context.Context, capture *audio.Item, data []byte) (string, error)
}

// S3Archiver uploads captures to an S3-compatible bucket. Credentials come
// from the default AWS chain.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver from cfg. optFns adjust the S3 client,
// for example to point at a local endpoint.
func NewS3Archiver(ctx context.Context, cfg config.Archive, optFns ...func(*s3.Options)) (*S3Archiver, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible servers often reject the newer default checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	return &S3Archiver{client: client, bucket: bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for capture: prefix/YYYY/MM/DD/<id>.<ext>.
func (a *S3Archiver) Key(capture *audio.Item) string {
	day := capture.CreatedAt.UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, capture.ID+extensionFor(capture.ContentType))
}

// Archive implements Archiver and returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, capture *audio.Item, data []byte) (string, error) {
	if capture == nil {
		return "", services.Wrap(services.ErrValidation, "voice", "archive", "capture required", nil)
	}
	key := a.Key(capture)
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if capture.ContentType != "" {
		input.ContentType = aws.String(capture.ContentType)
	}
	metadata := map[string]string{}
	if capture.Metadata.Source != "" {
		metadata["source"] = capture.Metadata.Source
	}
	if capture.Metadata.TenantID != "" {
		metadata["tenant-id"] = capture.Metadata.TenantID
	}
	if capture.Metadata.CorrelationID != "" {
		metadata["correlation-id"] = capture.Metadata.CorrelationID
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", services.Wrap(services.ErrTransient, "voice", "archive", "put "+key, err)
	}
	return key, nil
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/webm":
		return ".webm"
	case "audio/flac":
		return ".flac"
	default:
		return ".bin"
	}
}
