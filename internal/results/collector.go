// Package results copies an experiment's output from object storage into the run workspace.
package results

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/determined-ai/expoptimizer/internal/objectstore"
)

// Collector downloads every object below a prefix into a directory. Each object is written to
// a temporary file and renamed into place, so collecting the same prefix twice leaves the
// directory in the same state as collecting it once.
type Collector struct {
	store objectstore.Store
	log   *log.Entry
}

// New creates a Collector reading from store.
func New(store objectstore.Store) *Collector {
	return &Collector{
		store: store,
		log:   log.WithField("component", "result-collector"),
	}
}

// Collect copies the objects under prefix into outputDir, keeping their paths relative to prefix.
// It returns the number of objects written.
func (c *Collector) Collect(ctx context.Context, prefix, outputDir string) (int, error) {
	objects, err := c.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	written := 0
	dir := strings.Trim(prefix, "/")
	for _, obj := range objects {
		rel := obj.Key
		if dir != "" {
			if !strings.HasPrefix(rel, dir+"/") {
				continue
			}
			rel = strings.TrimPrefix(rel, dir+"/")
		}
		if rel == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		dst, err := destination(outputDir, rel)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := c.fetch(ctx, obj, dst); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		written++
	}
	c.log.WithFields(log.Fields{
		"prefix": prefix,
		"output": outputDir,
	}).Infof("collected %d/%d result objects", written, len(objects))
	return written, result.ErrorOrNil()
}

// destination resolves rel below dir and refuses keys that would escape it.
func destination(dir, rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || clean != "/"+rel {
		return "", errors.Errorf("refusing to write object %q outside of %s", rel, dir)
	}
	return filepath.Join(dir, filepath.FromSlash(clean[1:])), nil
}

func (c *Collector) fetch(ctx context.Context, obj objectstore.Object, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create directory for %s", dst)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.partial")
	if err != nil {
		return errors.Wrapf(err, "cannot create temporary file for %s", dst)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := c.store.Download(ctx, obj.Key, tmp)
	if err != nil {
		return err
	}
	if obj.Size > 0 && n != obj.Size {
		return errors.Errorf("short download of %s: %d of %d bytes", obj.Key, n, obj.Size)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "cannot close %s", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrapf(err, "cannot move %s into place", dst)
	}
	return nil
}
