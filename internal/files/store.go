package files

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"clinicledger/internal/config"
	"clinicledger/pkg/contracts/domain"
)

// ErrNotExist is returned when a staged file is missing.
var ErrNotExist = errors.New("staged file does not exist")

// Store holds staged upload files by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Driver() string
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "local", "":
		return NewManager(cfg.LocalDir)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._() -]+`)

// StagingKey builds the key of the index-th file of an upload.
func StagingKey(uploadID string, index int, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(unsafeName.ReplaceAllString(base, "_"))
	if base == "" || base == "." || base == ".." {
		base = "file"
	}
	return path.Join("uploads", uploadID, fmt.Sprintf("%03d-%s", index, base))
}

// Checksum returns the hex xxhash64 digest of r.
func Checksum(r io.Reader) (string, error) {
	hasher := xxhash.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Stage writes content to store and returns the file metadata for the upload.
func Stage(ctx context.Context, store Store, uploadID string, index int, name, contentType string, content []byte) (domain.UploadFile, error) {
	sum, err := Checksum(bytes.NewReader(content))
	if err != nil {
		return domain.UploadFile{}, err
	}
	key := StagingKey(uploadID, index, name)
	if err := store.Put(ctx, key, bytes.NewReader(content), contentType); err != nil {
		return domain.UploadFile{}, fmt.Errorf("failed to stage %s: %w", name, err)
	}
	return domain.UploadFile{
		Name:        name,
		StorageKey:  key,
		Size:        int64(len(content)),
		Checksum:    sum,
		ContentType: contentType,
	}, nil
}
