// Package s3 moves attachments to and from Amazon S3 or any S3-compatible object store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/transfer"
)

type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // set for S3-compatible stores; enables path-style addressing
	AccessKeyID     string
	SecretAccessKey string
	PartSize        int64
}

// NewClient builds an S3 client from static credentials, falling back to the
// default AWS credential chain when no key is configured.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		))
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Transport stores each attachment as one object under <prefix>/<bucket>/<object>/<attribute>.
type Transport struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func New(client *s3.Client, cfg Config) *Transport {
	return &Transport{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			if cfg.PartSize >= manager.MinUploadPartSize {
				u.PartSize = cfg.PartSize
			}
		}),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

func (t *Transport) objectKey(a transfer.Attachment) string {
	return path.Join(t.prefix, a.Bucket, a.Object, a.Attribute)
}

func (t *Transport) Send(ctx context.Context, a transfer.Attachment, body io.Reader, size int64) error {
	logger := logctx.LoggerFromContext(ctx).With("s3_bucket", t.bucket, "s3_key", t.objectKey(a))

	out, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(a)),
		Body:   body,
	})
	if err != nil {
		return classify("put_object", err)
	}

	logger.DebugContext(ctx, "attachment uploaded to s3", "size", size, "location", out.Location)

	return nil
}

func (t *Transport) Receive(ctx context.Context, a transfer.Attachment) (io.ReadCloser, int64, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(a)),
	})
	if err != nil {
		return nil, 0, classify("get_object", err)
	}

	length := int64(-1)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}

	return out.Body, length, nil
}

// classify converts an SDK error into a transfer.TransportError.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	te := &transfer.TransportError{
		Operation: operation,
		Kind:      transfer.Permanent,
		Message:   err.Error(),
		Err:       err,
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		te.StatusCode = respErr.HTTPStatusCode()
		te.Kind = transfer.KindForStatus(te.StatusCode)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		te.Message = apiErr.ErrorMessage()

		if kind, ok := kindForCode(apiErr.ErrorCode()); ok {
			te.Kind = kind
		}

		return te
	}

	if respErr == nil && transfer.IsTransient(transfer.AsTransportError(operation, err)) {
		te.Kind = transfer.Transient
	}

	return te
}

func kindForCode(code string) (transfer.ErrorKind, bool) {
	switch code {
	case "RequestTimeout", "RequestTimeoutException", "Throttling", "ThrottlingException",
		"SlowDown", "InternalError", "ServiceUnavailable", "RequestLimitExceeded":
		return transfer.Transient, true
	case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId",
		"SignatureDoesNotMatch", "EntityTooLarge", "InvalidRequest", "InvalidArgument":
		return transfer.Permanent, true
	default:
		return transfer.Permanent, false
	}
}
