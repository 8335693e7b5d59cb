package blobcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ Service = &S3Store{}

// S3Store caches blobs in an S3 bucket, buffering ingests through a local
// scratch directory.
type S3Store struct {
	bucket     string
	client     *s3.Client
	scratchDir string
	uploader   *manager.Uploader
}

func NewS3Store(bucket, scratchDir string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		// Keys are sha256-addressed and verified before ingest; the SDK only
		// checks CRC32 on multipart uploads anyway.
		options.DisableLogOutputChecksumValidationSkipped = true
	})
	// check access on startup
	_, err = client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket:  &bucket,
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket `%s`: %w", bucket, err)
	}

	return &S3Store{
		bucket:     bucket,
		client:     client,
		scratchDir: scratchDir,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 4
			u.LeavePartsOnError = false
		}),
	}, nil
}

func (c *S3Store) Get(digest string) (Blob, Writer, error) {
	key := blobKey(digest)
	writer := &s3Writer{
		client:     c.client,
		uploader:   c.uploader,
		bucket:     c.bucket,
		key:        key,
		scratchDir: c.scratchDir,
	}
	obj, err := c.client.HeadObject(context.TODO(), &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, writer, nil
		}
		return nil, nil, err
	}

	return &s3Blob{
		client: c.client,
		bucket: c.bucket,
		key:    key,
		size:   aws.ToInt64(obj.ContentLength),
	}, writer, nil
}

type s3Blob struct {
	client *s3.Client
	bucket string
	key    string
	size   int64
}

var _ Blob = &s3Blob{}

func (b *s3Blob) GetReader() (io.ReadCloser, error) {
	obj, err := b.client.GetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &b.key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return obj.Body, nil
}

func (b *s3Blob) Size() int64 {
	return b.size
}

// s3Writer buffers into a scratch file and uploads on Close.
type s3Writer struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	key        string
	scratchDir string
	file       *os.File
}

var _ Writer = &s3Writer{}

func (w *s3Writer) Write(b []byte) (n int, err error) {
	if w.file == nil {
		file, err := os.CreateTemp(w.scratchDir, "ingest-*")
		if err != nil {
			return 0, err
		}
		w.file = file
	}
	return w.file.Write(b)
}

func (w *s3Writer) Close() error {
	if w.file == nil {
		return nil
	}
	defer os.Remove(w.file.Name())

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat scratch file: %w", err)
	}
	if _, err = w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek scratch file: %w", err)
	}
	_, err = w.uploader.Upload(context.TODO(), &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          w.file,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return w.file.Close()
}

func (w *s3Writer) Cleanup() {
	if w.file != nil {
		_ = w.file.Close()
		_ = os.Remove(w.file.Name())
	}
}
