package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// putObjectAPI is the slice of the S3 client the publisher uses.
type putObjectAPI interface {
	PutObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

type s3Publisher struct {
	log    logrus.FieldLogger
	cfg    *config.S3ExportConfig
	client putObjectAPI
	format string
}

// Compile-time interface check.
var _ Publisher = (*s3Publisher)(nil)

// NewS3Publisher uploads the document to an S3-compatible bucket.
func NewS3Publisher(
	log logrus.FieldLogger, cfg *config.S3ExportConfig,
) Publisher {
	return &s3Publisher{
		log:    log.WithField("component", "s3-export"),
		cfg:    cfg,
		client: newS3Client(cfg),
		format: formatForPath("", cfg.Key),
	}
}

func newS3Client(cfg *config.S3ExportConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

func (p *s3Publisher) Name() string {
	return "s3://" + p.cfg.Bucket + "/" + p.cfg.Key
}

func (p *s3Publisher) Publish(ctx context.Context, cfg *traefik.Configuration) error {
	data, contentType, err := traefik.Render(cfg, p.format)
	if err != nil {
		return err
	}

	if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(p.cfg.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"bucket": p.cfg.Bucket,
		"key":    p.cfg.Key,
		"bytes":  len(data),
	}).Info("Uploaded traefik config")

	return nil
}
