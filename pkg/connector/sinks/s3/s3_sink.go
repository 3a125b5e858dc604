// Package s3 provides an object-storage result sink. Results are buffered as
// JSON lines and uploaded as a single object on Close.
package s3

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gojson "github.com/goccy/go-json"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/models"
)

func init() {
	_ = registry.RegisterSink("s3", NewSink)
}

// Sink uploads forecast results to S3 as JSON lines. Recognized options:
// "bucket" (required), "key" (required), "region".
type Sink struct {
	bucket string
	key    string
	region string

	uploader *manager.Uploader
	buf      bytes.Buffer
}

// NewSink creates an S3 sink from configuration.
func NewSink(cfg *config.BaseConfig) (core.ResultSink, error) {
	bucket := cfg.Sink.Option("bucket", "")
	key := cfg.Sink.Option("key", "")
	if bucket == "" || key == "" {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "s3 sink requires bucket and key options")
	}
	return &Sink{
		bucket: bucket,
		key:    key,
		region: cfg.Sink.Option("region", ""),
	}, nil
}

// Open resolves AWS credentials and builds the uploader.
func (s *Sink) Open(ctx context.Context, _ *config.BaseConfig) error {
	opts := []func(*awsconfig.LoadOptions) error{}
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "failed to load AWS config")
	}

	s.uploader = manager.NewUploader(s3.NewFromConfig(awsCfg))
	return nil
}

// Write buffers results as JSON lines.
func (s *Sink) Write(_ context.Context, results []*models.Result) error {
	enc := gojson.NewEncoder(&s.buf)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fserrors.Wrap(err, fserrors.ErrorTypeData, "failed to encode result")
		}
	}
	return nil
}

// Close uploads the buffered object.
func (s *Sink) Close(ctx context.Context) error {
	if s.uploader == nil {
		return nil
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(s.buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "s3 upload failed").
			WithDetail("bucket", s.bucket).
			WithDetail("key", s.key)
	}
	return nil
}
