// Package objectstore gives read access to the storage an experiment writes its output and
// completion marker to.
package objectstore

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/determined-ai/expoptimizer/pkg/check"
)

// Supported store types.
const (
	S3Type       = "s3"
	GCSType      = "gcs"
	SharedFSType = "shared_fs"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object. Keys are relative to the store prefix and use "/".
type Object struct {
	Key  string
	Size int64
}

// Store is a read-only view of a bucket (or directory) below a prefix.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
}

// Config selects and configures a Store.
type Config struct {
	Type     string `json:"type"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix"`
	Region   string `json:"region"`
	HostPath string `json:"host_path"`
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	errs := []error{check.In(c.Type, []string{S3Type, GCSType, SharedFSType},
		"result storage type")}
	switch c.Type {
	case S3Type, GCSType:
		errs = append(errs, check.NotEmpty(c.Bucket, "result storage bucket must be set"))
	case SharedFSType:
		errs = append(errs, check.NotEmpty(c.HostPath, "result storage host path must be set"))
	}
	return errs
}

// New returns the Store described by config.
func New(ctx context.Context, config Config) (Store, error) {
	switch config.Type {
	case S3Type:
		return newS3Store(config)
	case GCSType:
		return newGCSStore(ctx, config)
	case SharedFSType:
		return newLocalStore(config.HostPath, config.Prefix), nil
	default:
		return nil, errors.Errorf("unsupported result storage type %q", config.Type)
	}
}

// joinKey joins prefix and key, keeping a trailing "/" so a listing of "exp/" does not match
// "exp2/...".
func joinKey(prefix, key string) string {
	joined := strings.TrimLeft(path.Join(prefix, key), "/")
	if joined != "" && strings.HasSuffix(key, "/") {
		joined += "/"
	}
	return joined
}

func trimKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimLeft(prefix, "/")), "/")
}

// offsetWriter adapts an io.WriterAt to sequential writes starting at offset zero.
func offsetWriter(w io.WriterAt) io.Writer {
	return io.NewOffsetWriter(w, 0)
}
