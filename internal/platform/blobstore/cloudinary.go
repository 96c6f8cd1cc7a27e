package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultCloudinaryBaseURL = "https://api.cloudinary.com"

// CloudinaryConfig configures unsigned uploads through an upload preset.
type CloudinaryConfig struct {
	CloudName    string
	UploadPreset string
	BaseURL      string
	Timeout      time.Duration
}

// CloudinaryStore uploads to Cloudinary with an unsigned preset and returns
// the secure_url of the stored asset.
type CloudinaryStore struct {
	cfg    CloudinaryConfig
	client *resty.Client
}

type cloudinaryUploadResponse struct {
	PublicID     string `json:"public_id"`
	SecureURL    string `json:"secure_url"`
	Bytes        int64  `json:"bytes"`
	ResourceType string `json:"resource_type"`
	Format       string `json:"format"`
}

type cloudinaryError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinaryStore(cfg CloudinaryConfig) *CloudinaryStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCloudinaryBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")
	return &CloudinaryStore{cfg: cfg, client: client}
}

func (s *CloudinaryStore) Put(ctx context.Context, key, contentType string, r io.Reader) (*Object, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}

	publicID := strings.TrimSuffix(key, path.Ext(key))
	var out cloudinaryUploadResponse
	var apiErr cloudinaryError
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"upload_preset": s.cfg.UploadPreset,
			"public_id":     publicID,
		}).
		SetFileReader("file", path.Base(key), bytes.NewReader(data)).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/v1_1/%s/auto/upload", s.cfg.CloudName))
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("cloudinary upload: %s", msg)
	}
	if out.SecureURL == "" {
		return nil, fmt.Errorf("cloudinary upload: response has no secure_url")
	}

	size := out.Bytes
	if size == 0 {
		size = int64(len(data))
	}
	return &Object{
		Key:         key,
		URL:         out.SecureURL,
		ContentType: contentType,
		Size:        size,
		Hash:        checksum(data),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
