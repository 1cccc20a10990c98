package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Options configures the S3 backend. Credentials come from the default AWS chain
// (environment, shared config, instance role).
type S3Options struct {
	Region    string
	Endpoint  string // optional, for S3-compatible servers
	PathStyle bool
	PageSize  int32
}

// S3 is a Store backed by an S3 (or S3-compatible) service.
type S3 struct {
	client   *s3.Client
	pageSize int32
}

// NewS3 builds an S3 store from the default AWS configuration chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3{client: client, pageSize: opts.PageSize}, nil
}

func (s *S3) ListPage(ctx context.Context, bucket, prefix, token string) (Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	if s.pageSize > 0 {
		in.MaxKeys = aws.Int32(s.pageSize)
	}
	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return Page{}, classifyS3Error("list", bucket, prefix, err)
	}

	page := Page{Objects: make([]Object, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, Object{
			Key:          aws.ToString(obj.Key),
			LastModified: aws.ToTime(obj.LastModified),
			Size:         aws.ToInt64(obj.Size),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *S3) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error("get", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w: %w", bucket, key, ErrTransientIO, err)
	}
	return data, nil
}

func (s *S3) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return classifyS3Error("put", bucket, key, err)
	}
	return nil
}

func classifyS3Error(op, bucket, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrTransientIO, err)
}
