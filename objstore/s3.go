package objstore

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

// S3Downloader downloads objects through the S3 API. Pointing Endpoint at
// https://storage.googleapis.com with HMAC keys reads from GCS.
type S3Downloader struct {
	client     s3iface.S3API
	downloader *s3manager.Downloader
	logger     log.Logger
}

// NewS3Downloader builds a client from the storage config. Credentials come
// from the default AWS chain unless Anonymous is set.
func NewS3Downloader(cfg config.StorageConfig) (*S3Downloader, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.Anonymous {
		awsCfg = awsCfg.WithCredentials(credentials.AnonymousCredentials)
	}
	if cfg.Timeout > 0 {
		awsCfg = awsCfg.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.NewConfigError("data_ingestion.storage", "failed to create storage session", err)
	}
	return NewS3DownloaderWithClient(s3.New(sess)), nil
}

// NewS3DownloaderWithClient wraps an existing client
func NewS3DownloaderWithClient(client s3iface.S3API) *S3Downloader {
	return &S3Downloader{
		client:     client,
		downloader: s3manager.NewDownloaderWithClient(client),
		logger:     log.GetLoggerWithName("objstore.s3"),
	}
}

func (d *S3Downloader) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	start := time.Now()
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	n, err := writeAtomic(dest, func(f *os.File) (int64, error) {
		return d.downloader.DownloadWithContext(ctx, f, input)
	})
	if err != nil {
		if isNotFound(err) {
			return 0, errors.Mark(errors.Wrapf(err, "s3://%s/%s", bucket, key), errors.ErrObjectNotFound)
		}
		return 0, errors.Wrapf(err, "download s3://%s/%s", bucket, key)
	}

	d.logger.Info("Downloaded object",
		log.PathKey, dest,
		"object", "s3://"+bucket+"/"+key,
		"bytes", n,
		log.DurationMsKey, time.Since(start).Milliseconds())
	return n, nil
}

// isNotFound reports whether err is the S3 error for a missing key or bucket
func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return true
	}
	var rf awserr.RequestFailure
	if errors.As(err, &rf) && rf.StatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
