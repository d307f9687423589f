package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/config"
)

// ObjectGetter is the subset of the S3 client the source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source fetches s3://bucket/key objects from an S3-compatible store.
type S3Source struct {
	client ObjectGetter
	log    zerolog.Logger
}

// NewS3Source creates an S3 source from config. Static keys are used when
// configured; otherwise the default AWS credential chain applies.
func NewS3Source(cfg config.S3Config, log zerolog.Logger) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.StaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3SourceWithClient(s3.NewFromConfig(awsCfg, s3Opts...), log), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client ObjectGetter, log zerolog.Logger) *S3Source {
	return &S3Source{
		client: client,
		log:    log.With().Str("component", "s3-source").Logger(),
	}
}

func (s *S3Source) Name() string { return "s3" }

func (s *S3Source) Handles(u *url.URL) bool { return u.Scheme == "s3" }

func (s *S3Source) Fetch(ctx context.Context, u *url.URL, dir string) (*Asset, error) {
	bucket, key, err := parseS3URL(u)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	dst := filepath.Join(dir, outputStem+path.Ext(key))
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", dst, err)
	}

	format := formatOf(key)
	if format == "" && out.ContentType != nil {
		// audio/mpeg -> mpeg
		if _, sub, ok := strings.Cut(*out.ContentType, "/"); ok {
			format = sub
		}
	}
	return &Asset{Path: dst, Format: format}, nil
}

func parseS3URL(u *url.URL) (bucket, key string, err error) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: want s3://bucket/key", u.String())
	}
	return bucket, key, nil
}
