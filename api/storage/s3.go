package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNoSuchKey = errors.New("no such key")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type Client struct {
	mc     *minio.Client
	config Config
	logger hclog.Logger
}

type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

func NewClient(cfg Config, logger hclog.Logger) (*Client, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Client{mc: mc, config: cfg, logger: logger.Named("s3")}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, name string) error {
	exists, err := c.mc.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	region := c.config.Region
	if region == "" || region == "auto" {
		region = "us-east-1"
	}
	if err := c.mc.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	c.logger.Info("created bucket", "bucket", name)
	return nil
}

func (c *Client) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.wrap(bucket, key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, c.wrap(bucket, key, err)
	}
	return data, nil
}

func (c *Client) Remove(ctx context.Context, bucket, key string) error {
	if err := c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return c.wrap(bucket, key, err)
	}
	return nil
}

func (c *Client) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var out []Object
	for obj := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}
		out = append(out, Object{Key: obj.Key, LastModified: obj.LastModified, Size: obj.Size})
	}
	return out, nil
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.mc.ListBuckets(ctx)
	return err
}

func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

func (c *Client) wrap(bucket, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNoSuchKey)
	}
	return fmt.Errorf("%s/%s: %w", bucket, key, err)
}
