package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures an S3-compatible bucket.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string // optional public URL prefix, e.g. a CDN in front of the bucket
}

// MinioStore writes blobs to a MinIO (or any S3-compatible) bucket.
type MinioStore struct {
	cfg    MinioConfig
	client *minio.Client

	bucketOnce sync.Once
	bucketErr  error
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{cfg: cfg, client: client}, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
		if err != nil {
			s.bucketErr = fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
			return
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				s.bucketErr = fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
			}
		}
	})
	return s.bucketErr
}

func (s *MinioStore) Put(ctx context.Context, key, contentType string, r io.Reader) (*Object, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("minio put %s: %w", key, err)
	}

	return &Object{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        info.Size,
		Hash:        checksum(data),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// PublicURL returns the address clients use to fetch key.
func (s *MinioStore) PublicURL(key string) string {
	if s.cfg.PublicBase != "" {
		return strings.TrimRight(s.cfg.PublicBase, "/") + "/" + key
	}
	scheme := "http://"
	if s.cfg.UseSSL {
		scheme = "https://"
	}
	return scheme + s.cfg.Endpoint + "/" + s.cfg.Bucket + "/" + key
}
