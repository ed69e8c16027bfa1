package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/config"
)

const defaultPrefix = "agentbench"

// putObjectAPI is the subset of the S3 client used here.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3ReportConfig
	client putObjectAPI
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3ReportConfig,
) Uploader {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
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
		},
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-report"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("agentbench write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.prefix() + "/.write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

func (u *s3Uploader) Upload(ctx context.Context, summary *Summary) (string, error) {
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling summary: %w", err)
	}

	key := u.summaryKey(summary.Run.ID)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("PutObject %s: %w", key, err)
	}

	u.log.WithFields(logrus.Fields{
		"run_id": summary.Run.ID,
		"bucket": u.cfg.Bucket,
		"key":    key,
	}).Info("Run summary uploaded")

	return key, nil
}

func (u *s3Uploader) prefix() string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}

	return prefix
}

// summaryKey builds the object key for a run summary.
func (u *s3Uploader) summaryKey(runID string) string {
	return u.prefix() + "/runs/" + runID + "/summary.json"
}
