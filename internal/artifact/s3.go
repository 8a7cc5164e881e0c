package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("artifact: object not found")

const pngContentType = "image/png"

// S3Config configures the S3 mirror.
type S3Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty for AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Prefix is prepended to every key, e.g. "exambuilder/nightly".
	Prefix string
	// PublicURL is the base URL returned as the artifact location. Defaults to
	// s3://<bucket>.
	PublicURL string
	// UsePathStyle is required by most S3-compatible services and gofakes3.
	UsePathStyle bool
}

// S3Store uploads artifacts under <prefix>/<run id>/<name>.
type S3Store struct {
	client    *s3.Client
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Store builds an S3 client from cfg. runID scopes the keys of this run.
func NewS3Store(ctx context.Context, cfg S3Config, runID string) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("artifact: s3 bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StoreFromClient(client, cfg.Bucket, path.Join(cfg.Prefix, runID), cfg.PublicURL), nil
}

// NewS3StoreFromClient wraps an existing client. Used with gofakes3 in tests.
func NewS3StoreFromClient(client *s3.Client, bucket, prefix, publicURL string) *S3Store {
	publicURL = strings.TrimSuffix(publicURL, "/")
	if publicURL == "" {
		publicURL = "s3://" + bucket
	}
	return &S3Store{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: publicURL,
	}
}

// Key returns the object key for an artifact name.
func (s *S3Store) Key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Save uploads png and returns its URL.
func (s *S3Store) Save(ctx context.Context, name string, png []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	key := s.Key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String(pngContentType),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: put object %q: %w", key, err)
	}
	return s.URL(key), nil
}

// Get downloads a previously saved artifact.
// Returns ErrObjectNotFound if it does not exist.
func (s *S3Store) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.Key(name)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("artifact: get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: read object %q: %w", key, err)
	}
	return data, nil
}

// URL returns the location of key under the public base URL.
func (s *S3Store) URL(key string) string {
	return s.publicURL + "/" + strings.TrimPrefix(key, "/")
}
