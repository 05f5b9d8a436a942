package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const httpTimeout = 30 * time.Second

// Options configures a Client for an S3-compatible endpoint.
type Options struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	DisableTLS     bool
	ForcePathStyle bool
}

// OptionsFromEnv reads S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY and the
// optional S3_REGION (default us-east-1), S3_DISABLE_TLS and
// S3_FORCE_PATH_STYLE (default true).
func OptionsFromEnv() (Options, error) {
	opts := Options{
		Endpoint:       strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		Region:         os.Getenv("S3_REGION"),
		AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3_SECRET_KEY"),
		ForcePathStyle: true,
	}
	if opts.Endpoint == "" {
		return Options{}, errors.New("S3_ENDPOINT is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return Options{}, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	opts.DisableTLS, _ = strconv.ParseBool(os.Getenv("S3_DISABLE_TLS"))
	if v := strings.TrimSpace(os.Getenv("S3_FORCE_PATH_STYLE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			opts.ForcePathStyle = parsed
		}
	}
	return opts, nil
}

// Client stores generated artifacts in an S3-compatible bucket.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewClient builds a Client writing to bucket.
func NewClient(ctx context.Context, bucket string, opts Options) (*Client, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	endpoint := opts.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if opts.DisableTLS {
			scheme = "http"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(httpTimeout)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &Client{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

// PutArtifact uploads content under key with a SHA-256 checksum and returns the hex digest.
func (c *Client) PutArtifact(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}
	if key == "" {
		return "", errors.New("key is required")
	}
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	size := int64(len(content))

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(content),
		ContentLength:     &size,
		ContentType:       aws.String(contentType),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"sha256": digest,
		},
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// PresignGet generates a presigned GET URL for key valid for ttl.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
