package console

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/options"
)

// Artifact describes a staged firmware image, ready to hand to a module.
type Artifact struct {
	URL    string
	SHA256 string
	Size   uint32
}

// Pusher stages firmware images in the S3-compatible artifact store the
// modules download from.
type Pusher struct {
	client *minio.Client
	bucket string
	region string
}

// NewPusher connects to the artifact store.
func NewPusher(opts *options.S3Options) (*Pusher, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store client: %w", err)
	}
	return &Pusher{client: client, bucket: opts.BucketName, region: opts.Region}, nil
}

// Push uploads the image at path and returns a presigned download URL, the
// image hash, and its size. expiry bounds how long the URL stays valid,
// which must cover the whole fleet's download window.
func (p *Pusher) Push(ctx context.Context, path string, expiry time.Duration) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("hash image: %w", err)
	}
	if size == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}

	objectKey := fmt.Sprintf("%s-%s", sum[:12], filepath.Base(path))
	info, err := p.client.FPutObject(ctx, p.bucket, objectKey, path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	log.Info("Firmware staged", "bucket", p.bucket, "object", objectKey, "size", info.Size)

	presigned, err := p.client.PresignedGetObject(ctx, p.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("presign download url: %w", err)
	}

	return &Artifact{
		URL:    presigned.String(),
		SHA256: sum,
		Size:   uint32(size),
	}, nil
}

func (p *Pusher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating", "bucket", p.bucket)
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}
