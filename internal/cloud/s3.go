// Package cloud wraps the S3 API surface the backup pipeline needs: upload
// with server-side checksum, existence probe and delete. Credentials come
// from the standard AWS discovery chain; a custom endpoint (Minio-style)
// can be set for test runs.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-retryablehttp"
)

// Uploader is the part-upload surface consumed by the worker pool.
type Uploader interface {
	// Upload streams the file at localPath to the object store under key.
	// progress, when non-nil, receives cumulative byte counts.
	Upload(ctx context.Context, localPath, key string, progress func(n int64)) error
}

// Client is an S3 object-store client scoped to one bucket.
// Safe for concurrent use.
type Client struct {
	s3      *s3.Client
	bucket  string
	testRun bool
}

// Options configures a Client.
type Options struct {
	Bucket   string
	Endpoint string // optional override for Minio-style test servers
	TestRun  bool   // skip the DEEP_ARCHIVE storage class

	// AccessKeyID/SecretAccessKey override the ambient credential chain.
	// Used with test servers whose keys are not in ~/.aws.
	AccessKeyID     string
	SecretAccessKey string
}

// New builds a Client from the ambient AWS configuration. The HTTP transport
// retries transient failures below the SDK layer.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient.StandardClient()),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{s3: client, bucket: opts.Bucket, testRun: opts.TestRun}, nil
}

// Upload streams the file at localPath to the bucket under key, declaring a
// SHA-256 checksum so the store verifies the body. Outside test runs the
// object is stored in the DEEP_ARCHIVE class.
func (c *Client) Upload(ctx context.Context, localPath, key string, progress func(n int64)) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", localPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		Body:              newProgressReader(file, progress),
		ContentLength:     aws.Int64(info.Size()),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if !c.testRun {
		input.StorageClass = types.StorageClassDeepArchive
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present in the bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head %q: %w", key, err)
	}
	return true, nil
}

// Delete removes key from the bucket. S3 answers 200 or 204 for deletes;
// both surface as a nil error from the SDK.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Bucket returns the bucket this client is scoped to.
func (c *Client) Bucket() string {
	return c.bucket
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}
