// Package blobstore stores user uploads (avatars, report scans, chat
// attachments) and returns a public URL for each. Backends: Cloudinary
// unsigned uploads, MinIO, and an in-memory store for development and tests.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrEmptyFile          = errors.New("file is empty")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidFolder      = errors.New("folder is not allowed")
)

// MaxFileSize is the maximum allowed blob size in bytes (10 MB).
const MaxFileSize = 10 * 1024 * 1024

// AllowedFolders are the upload destinations clients may name.
var AllowedFolders = map[string]bool{
	"avatars":     true,
	"reports":     true,
	"attachments": true,
	"emergency":   true,
	"general":     true,
}

// AllowedContentTypes lists the accepted MIME types and their file extensions.
var AllowedContentTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"application/pdf": ".pdf",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"video/mp4":       ".mp4",
}

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (*Object, error)
}

var folderPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// NewKey builds a collision-free object key of the form folder/owner/uuid.ext.
func NewKey(folder, owner, contentType string) (string, error) {
	if folder == "" {
		folder = "general"
	}
	if !folderPattern.MatchString(folder) || !AllowedFolders[folder] {
		return "", ErrInvalidFolder
	}
	ext, ok := AllowedContentTypes[contentType]
	if !ok {
		return "", ErrInvalidContentType
	}
	owner = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, owner)
	if owner == "" {
		owner = "anonymous"
	}
	return path.Join(folder, owner, uuid.NewString()+ext), nil
}

// NormalizeContentType trims parameters and sniffs the type when the client
// sent none or a generic one.
func NormalizeContentType(declared string, head []byte) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if ct == "" || ct == "application/octet-stream" {
		ct = strings.Split(http.DetectContentType(head), ";")[0]
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}

// readLimited reads r fully, failing when it exceeds MaxFileSize or is empty.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// MemoryStore is a thread-safe, in-memory BlobStore for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string]storedBlob
}

type storedBlob struct {
	object  Object
	content []byte
}

// NewMemoryStore returns a MemoryStore whose object URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]storedBlob),
	}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, r io.Reader) (*Object, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}

	obj := Object{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        checksum(data),
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = storedBlob{object: obj, content: data}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

// Get returns the content and metadata stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
