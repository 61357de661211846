// Package objectstore is the C9 object-store sink: clip video, thumbnail,
// and metadata blobs are uploaded to an S3-compatible bucket via
// github.com/minio/minio-go/v7, the teacher's choice for binary-blob
// storage generalised from avatar/snapshot uploads to event-clip uploads.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"videoguard/internal/config"
)

// Client uploads analyzer event-clip artifacts to a bucket, realising the
// PutObject half of analyzer.Sinks.
type Client struct {
	mc     *minio.Client
	bucket string
}

// New dials the object store and ensures the configured bucket exists with
// an anonymous-read policy, mirroring the original's
// _gen_public_read_policy so clip URLs handed to clients work without
// presigning.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: dial %s: %w", cfg.Endpoint, err)
	}

	c := &Client{mc: mc, bucket: cfg.Bucket}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: bucket exists check: %w", err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("objectstore: make bucket %s: %w", c.bucket, err)
		}
	}
	return c.mc.SetBucketPolicy(ctx, c.bucket, publicReadPolicy(c.bucket))
}

// publicReadPolicy grants anonymous GetObject on the bucket, the Go
// equivalent of the original's hand-built AWS policy document.
func publicReadPolicy(bucket string) string {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": map[string]any{"AWS": []string{"*"}},
				"Action":    []string{"s3:GetObject"},
				"Resource":  []string{fmt.Sprintf("arn:aws:s3:::%s/*", bucket)},
			},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// PutObject uploads data under key, implementing analyzer.Sinks.
func (c *Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}
