// Package archive keeps a durable copy of fleet reports in an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"fleetsync/pkg/config"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
)

var ErrNotArchived = errors.New("report not archived")

const uploadTimeout = time.Minute

type Archiver struct {
	client s3iface.S3API
	bucket string
	prefix string
	logger *logger.Logger
}

func NewS3Client(cfg *config.ArchiveConfig) (*s3.S3, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	retryer := client.DefaultRetryer{
		NumMaxRetries: cfg.MaxRetries,
		MinRetryDelay: time.Second,
		MaxRetryDelay: 10 * time.Second,
	}

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(cfg.Region),
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		HTTPClient:       httpClient,
		Retryer:          retryer,
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}

	return s3.New(sess), nil
}

func New(client s3iface.S3API, bucket, prefix string, log *logger.Logger) *Archiver {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: log,
	}
}

// Key is <prefix>/<operation>/<run_id>.json.
func (a *Archiver) Key(operation, runID string) string {
	return path.Join(a.prefix, strings.ToLower(operation), runID+".json")
}

func (a *Archiver) Put(ctx context.Context, report *fleet.FleetReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	sum := md5.Sum(data)
	key := a.Key(report.Operation, report.RunID)

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err = a.client.PutObjectWithContext(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		ContentMD5:  aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		Metadata: aws.StringMap(map[string]string{
			"run-id":    report.RunID,
			"operation": report.Operation,
			"succeeded": fmt.Sprintf("%t", report.Succeeded()),
		}),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive report %s: %w", report.RunID, err)
	}

	a.logger.Info("fleet report archived", map[string]any{
		"bucket": a.bucket,
		"key":    key,
	})
	return key, nil
}

func (a *Archiver) Get(ctx context.Context, operation, runID string) (*fleet.FleetReport, error) {
	key := a.Key(operation, runID)
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, fmt.Errorf("%w: %s", ErrNotArchived, key)
			}
		}
		return nil, fmt.Errorf("failed to fetch archived report: %w", err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived report: %w", err)
	}

	var report fleet.FleetReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived report: %w", err)
	}
	return &report, nil
}
