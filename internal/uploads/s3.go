package uploads

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config configures the S3-backed transfer transport.
type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
}

// S3Transfer implements Transfer with a single PutObject per file, counting
// request-body bytes through for progress.
type S3Transfer struct {
	cfg S3Config
	s3  *s3.Client
}

// NewS3Transfer builds the transport. Region and bucket are required.
func NewS3Transfer(ctx context.Context, cfg S3Config) (*S3Transfer, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Transfer{cfg: cfg, s3: client}, nil
}

func (t *S3Transfer) Upload(ctx context.Context, f File, onProgress func(float64)) (Result, error) {
	key := buildObjectKey(f.Name)
	body := newProgressReader(f.Body, f.Size, onProgress)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(t.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(f.ContentType),
	}
	if f.Size > 0 {
		input.ContentLength = aws.Int64(f.Size)
	}
	if _, err := t.s3.PutObject(ctx, input); err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	return Result{
		URL:         t.fileURL(key),
		Size:        f.Size,
		ContentType: f.ContentType,
	}, nil
}

func (t *S3Transfer) fileURL(key string) string {
	if t.cfg.PublicBase != "" {
		return t.cfg.PublicBase + "/" + key
	}
	if t.cfg.Endpoint != "" {
		return t.cfg.Endpoint + "/" + t.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", t.cfg.Bucket, t.cfg.Region, key)
}

func buildObjectKey(name string) string {
	base := path.Base(name)
	if base == "." || base == "/" {
		base = "file"
	}
	return "uploads/" + uuid.NewString() + "/" + base
}
