// Package core defines the object archive abstraction used for checkpoint
// exports and the error helpers shared by its backends.
package core

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Driver identifies a concrete archive backend implementation.
type Driver string

const (
	// DriverFilesystem stores objects below a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 stores objects in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps objects in process memory (tests).
	DriverMemory Driver = "memory"
)

// Text codes attached to archive errors.
const (
	TextCodeNotFound      = "ARCHIVE_OBJECT_NOT_FOUND"
	TextCodeAlreadyExists = "ARCHIVE_OBJECT_EXISTS"
	TextCodeInvalidKey    = "ARCHIVE_INVALID_KEY"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Archive is a create-only object store. Objects are never overwritten.
type Archive interface {
	// Put stores a new object at key. It fails with AlreadyExists if the key is taken.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the object metadata and its content; the caller closes the reader.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Stat returns metadata only.
	Stat(ctx context.Context, key string) (Info, error)
	// Delete removes an object and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns objects whose key has prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// NotFound reports a missing object.
func NotFound(key string) error {
	return goerrors.New(fmt.Sprintf("archive object %s not found", key), goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithMetadata(map[string]any{"key": key})
}

// AlreadyExists reports a Put against an existing key.
func AlreadyExists(key string) error {
	return goerrors.New(fmt.Sprintf("archive object %s already exists", key), goerrors.CategoryConflict).
		WithTextCode(TextCodeAlreadyExists).
		WithMetadata(map[string]any{"key": key})
}

// IsNotFound reports whether err is a missing object error.
func IsNotFound(err error) bool { return hasTextCode(err, TextCodeNotFound) }

// IsAlreadyExists reports whether err is a create-only conflict.
func IsAlreadyExists(err error) bool { return hasTextCode(err, TextCodeAlreadyExists) }

// CleanKey normalizes key and rejects empty, absolute, or escaping keys.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", InvalidKey(key, "empty key")
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", InvalidKey(key, "absolute key")
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", InvalidKey(key, "key contains '..'")
		}
	}
	return path.Clean(trimmed), nil
}

// InvalidKey reports a key the archive refuses to store.
func InvalidKey(key, reason string) error {
	return goerrors.New("archive: "+reason, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidKey).
		WithMetadata(map[string]any{"key": key})
}

// CloneMetadata copies user metadata so callers cannot alias stored maps.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}
