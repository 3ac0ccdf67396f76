package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads an audit export to durable object storage for retention.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) error
}

// Export serializes the sink's full chain as JSON lines and uploads it
// under audit/{prefix}/{timestamp}.jsonl. Returns the object key.
func Export(ctx context.Context, sink *MemorySink, archiver Archiver, prefix string) (string, error) {
	if err := sink.Verify(); err != nil {
		return "", fmt.Errorf("audit export: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range sink.Entries() {
		if err := enc.Encode(entry); err != nil {
			return "", fmt.Errorf("audit export: encode entry %d: %w", entry.Sequence, err)
		}
	}
	key := fmt.Sprintf("audit/%s/%s.jsonl", prefix, time.Now().UTC().Format("20060102T150405Z"))
	if err := archiver.Archive(ctx, key, buf.Bytes()); err != nil {
		return "", fmt.Errorf("audit export: %w", err)
	}
	return key, nil
}

// s3PutAPI is the slice of the S3 client the archiver uses.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes exports to an S3 bucket.
type S3Archiver struct {
	client s3PutAPI
	bucket string
}

// NewS3Archiver loads the default AWS config and targets bucket.
func NewS3Archiver(ctx context.Context, bucket string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3ArchiverWithClient injects a client. Test hook.
func NewS3ArchiverWithClient(client s3PutAPI, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

func (a *S3Archiver) Archive(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// GCSArchiver writes exports to a Google Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver dials GCS with ambient credentials.
func NewGCSArchiver(ctx context.Context, bucket string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial gcs: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, key string, data []byte) error {
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}
