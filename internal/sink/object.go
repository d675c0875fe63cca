package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/paulmach/orb/maptile"

	"github.com/kiesman99/slicer/pkg/tile"
)

// ObjectClient is the part of *minio.Client used by Bucket. Tests provide
// a fake implementation.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Bucket writes tiles to S3-compatible object storage under a key prefix.
type Bucket struct {
	client ObjectClient
	bucket string
	prefix string
}

// NewBucket returns a sink writing to bucket. It fails if the bucket does
// not exist.
func NewBucket(ctx context.Context, client ObjectClient, bucket, prefix string) (*Bucket, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, &IOError{Op: "stat bucket", Path: bucket, Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("storage bucket %q does not exist", bucket)
	}
	return &Bucket{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *Bucket) WriteTile(ctx context.Context, t maptile.Tile, ext string, data []byte) error {
	contentType := "application/octet-stream"
	if f, err := tile.ParseFormat(ext); err == nil {
		contentType = f.ContentType()
	}

	key := tile.Key(b.prefix, t, ext)
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return &IOError{Op: "put", Path: b.bucket + "/" + key, Err: err}
	}
	return nil
}

// NewStorageClient sets up a client for S3-compatible object storage. The
// key file is JSON with Endpoint, Key and Secret fields.
func NewStorageClient(keypath, version string) (*minio.Client, error) {
	data, err := os.ReadFile(keypath)
	if err != nil {
		return nil, err
	}

	var config struct{ Endpoint, Key, Secret string }
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse storage key %s: %w", keypath, err)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Key, config.Secret, ""),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}

	client.SetAppInfo("slicer", version)
	return client, nil
}
