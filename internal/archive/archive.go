// Package archive uploads the privacy event log to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-micprivacy/internal/eventlog"
	"github.com/oszuidwest/zwfm-micprivacy/internal/metrics"
	"github.com/oszuidwest/zwfm-micprivacy/internal/util"
)

// uploadTimeout bounds a single archive upload.
const uploadTimeout = 60 * time.Second

// S3Config holds S3 connection settings.
type S3Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// IsConfigured reports whether the minimum S3 settings are present.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Archiver copies the event log file to S3.
type Archiver struct {
	cfg    S3Config
	client ObjectPutter
	log    *eventlog.Logger
	host   string
	now    func() time.Time
}

// New returns an Archiver for the given event log.
func New(cfg S3Config, log *eventlog.Logger) (*Archiver, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("S3 is not configured")
	}
	return NewWithClient(cfg, createS3Client(&cfg), log), nil
}

// NewWithClient returns an Archiver using the given S3 client.
func NewWithClient(cfg S3Config, client ObjectPutter, log *eventlog.Logger) *Archiver {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &Archiver{cfg: cfg, client: client, log: log, host: host, now: time.Now}
}

// objectKey returns the key for an upload made at t.
func (a *Archiver) objectKey(t time.Time) string {
	return path.Join(a.cfg.Prefix, fmt.Sprintf("%s-%s.jsonl", a.host, t.UTC().Format("20060102T150405Z")))
}

// Upload puts the current event log file to the bucket and records the
// outcome in the event log.
func (a *Archiver) Upload(ctx context.Context) error {
	data, err := os.ReadFile(a.log.Path())
	if err != nil {
		return util.WrapError("read event log", err)
	}

	key := a.objectKey(a.now())

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		metrics.Get().ArchiveUploads.WithLabelValues("failed").Inc()
		if logErr := a.log.LogArchive(eventlog.ArchiveFailed, a.cfg.Bucket, key, 0, err.Error()); logErr != nil {
			slog.Warn("failed to log archive failure", "error", logErr)
		}
		return util.WrapError("upload event log", err)
	}

	metrics.Get().ArchiveUploads.WithLabelValues("ok").Inc()
	slog.Info("event log archived", "bucket", a.cfg.Bucket, "key", key, "bytes", len(data))
	return a.log.LogArchive(eventlog.ArchiveUploaded, a.cfg.Bucket, key, int64(len(data)), "")
}

// Run uploads every interval until ctx is done.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Upload(ctx); err != nil {
				slog.Error("event log archive failed", "error", err)
			}
		}
	}
}
