package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/fedinode/internal/common"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) error {
		_, err := c.PutObject(ctx, in)
		return err
	}

	getObject = func(c *s3.Client, ctx context.Context, in *s3.GetObjectInput) (io.ReadCloser, string, error) {
		out, err := c.GetObject(ctx, in)
		if err != nil {
			return nil, "", err
		}
		return out.Body, aws.ToString(out.ContentType), nil
	}

	presignGetObject = func(c *s3.Client, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return s3.NewPresignClient(c).PresignGetObject(ctx, in, optFns...)
	}
)

// URLExpiry bounds how long a presigned media link stays valid.
const URLExpiry = 24 * time.Hour

type S3Config struct {
	Region       string
	User         string
	Password     string
	BaseEndpoint string
	Bucket       string
}

// S3Store talks to S3 compatible storage such as MinIO. The client is
// created on first use.
type S3Store struct {
	cfg S3Config

	once   sync.Once
	client *s3.Client
	err    error
}

func NewS3Store(cfg S3Config) *S3Store {
	return &S3Store{cfg: cfg}
}

func (s *S3Store) getClient(ctx context.Context) (*s3.Client, error) {
	s.once.Do(func() {
		cfg, err := loadDefaultAWSConfig(ctx,
			config.WithRegion(s.cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				s.cfg.User,
				s.cfg.Password,
				"",
			)))
		if err != nil {
			s.err = err
			return
		}
		s.client = newS3ClientFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s.cfg.BaseEndpoint)
			o.UsePathStyle = true
		})
	})
	return s.client, s.err
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) error {
	c, err := s.getClient(ctx)
	if err != nil {
		return err
	}
	err = putObject(c, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	c, err := s.getClient(ctx)
	if err != nil {
		return nil, "", err
	}
	body, contentType, err := getObject(c, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", common.ErrorNotFound
		}
		return nil, "", fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	c, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}
	req, err := presignGetObject(c, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(URLExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
