// Package archive uploads session artifacts (raw capture logs and bucket
// parquet tables) to S3 after analysis completes.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "latencyflow/config"
	"latencyflow/logger"
)

// s3API is the slice of the S3 client the uploader needs; tests substitute
// a recorder.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader pushes artifacts under a date-partitioned prefix.
type Uploader struct {
	cfg    appconfig.S3Config
	client s3API
	log    *logger.Entry
}

func NewUploader(ctx context.Context, cfg appconfig.S3Config) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Uploader{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg),
		log:    logger.GetLogger().WithComponent("archive"),
	}, nil
}

// UploadFile archives a local file under the session's date partition.
func (u *Uploader) UploadFile(ctx context.Context, symbol, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", path, err)
	}
	return u.Upload(ctx, symbol, filepath.Base(path), data)
}

// Upload archives an in-memory artifact and returns its S3 key.
func (u *Uploader) Upload(ctx context.Context, symbol, name string, data []byte) (string, error) {
	key := u.objectKey(symbol, name)

	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := u.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	logger.IncrementS3Upload(int64(len(data)))
	u.log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("artifact uploaded")
	return key, nil
}

func (u *Uploader) objectKey(symbol, name string) string {
	key := filepath.Join(
		u.cfg.Prefix,
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%s", time.Now().UTC().Format("2006-01-02")),
		name,
	)
	return filepath.ToSlash(key)
}
