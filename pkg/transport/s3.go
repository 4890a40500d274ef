package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// S3Config carries the connection settings for an S3-compatible endpoint.
type S3Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UsePathStyle    bool
	DisableSSL      bool
}

// NewS3Client initializes an S3 client for a custom endpoint.
func NewS3Client(ctx context.Context, s3Config *S3Config) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(s3Config.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3Config.AccessKeyID, s3Config.SecretAccessKey, "")),
		config.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					//nolint:gosec
					InsecureSkipVerify: s3Config.DisableSSL,
				},
			},
		}),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s3Config.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s3Config.EndpointURL)
		}
		o.UsePathStyle = s3Config.UsePathStyle
	}), nil
}

// OpenS3Reader streams an object body. Seek(0, io.SeekStart) re-issues the
// GetObject, which is what lets the codec rewind an S3-backed stream.
func OpenS3Reader(ctx context.Context, client *s3.Client, bucket, key string) (Stream, error) {
	body, err := getObject(ctx, client, bucket, key)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("transport: opened s3 object s3://%s/%s for reading", bucket, key)
	return &s3Reader{ctx: ctx, client: client, bucket: bucket, key: key, body: body}, nil
}

func getObject(ctx context.Context, client *s3.Client, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transport: failed to read object s3://%s/%s", bucket, key)
	}
	return out.Body, nil
}

type s3Reader struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	body   io.ReadCloser
}

var _ Stream = &s3Reader{}

func (r *s3Reader) Read(p []byte) (int, error)  { return r.body.Read(p) }
func (r *s3Reader) Write(p []byte) (int, error) { return 0, ErrNotWritable }
func (r *s3Reader) Close() error                { return r.body.Close() }
func (r *s3Reader) Name() string                { return "s3://" + r.bucket + "/" + r.key }

func (r *s3Reader) Seek(offset int64, whence int) (int64, error) {
	if offset != 0 || whence != io.SeekStart {
		return 0, errors.New("transport: s3 reader only supports seeking to the object start")
	}
	body, err := getObject(r.ctx, r.client, r.bucket, r.key)
	if err != nil {
		return 0, err
	}
	_ = r.body.Close()
	r.body = body
	return 0, nil
}

// NewS3Writer streams written bytes into a multipart upload: a pipe feeds
// manager.Uploader running in the background, and Close waits for the
// upload to finish.
func NewS3Writer(ctx context.Context, client *s3.Client, bucket, key string, partSize int64, concurrency int) Stream {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			_ = pr.CloseWithError(err)
		}
		done <- err
	}()

	logrus.Debugf("transport: opened s3 object s3://%s/%s for writing", bucket, key)
	return &s3Writer{pw: pw, done: done, bucket: bucket, key: key}
}

type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
	bucket string
	key    string
}

var _ Stream = &s3Writer{}

func (w *s3Writer) Read(p []byte) (int, error)  { return 0, ErrNotReadable }
func (w *s3Writer) Write(p []byte) (int, error) { return w.pw.Write(p) }
func (w *s3Writer) Name() string                { return "s3://" + w.bucket + "/" + w.key }

func (w *s3Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return errors.Wrapf(<-w.done, "transport: upload s3://%s/%s", w.bucket, w.key)
}
