package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver stores entries before the Pruner deletes them
type Archiver interface {
	Archive(ctx context.Context, entries []*Entry) error
}

// S3Config configures the S3 archiver
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// objectPutter is the part of *s3.Client the archiver uses
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each batch as one NDJSON object
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver. Static credentials are used when both
// keys are set, the default AWS credential chain otherwise.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
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
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive uploads entries under <prefix>/YYYY/MM/DD/<first>-<last>.ndjson,
// dated by the first entry
func (a *S3Archiver) Archive(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	body, err := exportNDJSON(entries)
	if err != nil {
		return err
	}

	key := archiveKey(a.prefix, entries)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}
	return nil
}

func archiveKey(prefix string, entries []*Entry) string {
	first, last := entries[0], entries[len(entries)-1]
	day := first.Timestamp.UTC().Format("2006/01/02")
	key := fmt.Sprintf("%s/%d-%d.ndjson", day, first.ID, last.ID)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// Pruner enforces the audit retention horizon
type Pruner struct {
	store     Retention
	archiver  Archiver
	retention time.Duration
	batch     int
}

// NewPruner creates a pruner. archiver may be nil to delete without archiving.
func NewPruner(store Retention, archiver Archiver, retention time.Duration) *Pruner {
	return &Pruner{store: store, archiver: archiver, retention: retention, batch: 1000}
}

// Prune removes entries older than now minus the retention period. With an
// archiver, each batch is archived before it is deleted; a failed upload
// stops the run without deleting that batch.
func (p *Pruner) Prune(ctx context.Context, now time.Time) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-p.retention)

	var total int64
	for {
		batch, err := p.store.Before(ctx, cutoff, p.batch)
		if err != nil {
			return total, fmt.Errorf("failed to read expired audit entries: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		if p.archiver != nil {
			if err := p.archiver.Archive(ctx, batch); err != nil {
				return total, err
			}
		}

		deleted, err := p.store.DeleteUpTo(ctx, cutoff, batch[len(batch)-1].ID)
		if err != nil {
			return total, err
		}
		total += deleted

		if len(batch) < p.batch {
			return total, nil
		}
	}
}
