package objectstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// localStore serves a shared filesystem directory, e.g. an NFS mount the experiment writes to.
type localStore struct {
	root string
}

func newLocalStore(hostPath, prefix string) *localStore {
	return &localStore{root: filepath.Join(hostPath, filepath.FromSlash(prefix))}
}

func (s *localStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *localStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.Wrapf(err, "cannot stat %s", s.path(key))
	}
}

func (s *localStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	base := s.path(prefix)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list %s", base)
	}
	return objects, nil
}

func (s *localStore) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	f, err := os.Open(s.path(key)) // #nosec G304
	if os.IsNotExist(err) {
		return 0, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "cannot open %s", s.path(key))
	}
	defer func() {
		_ = f.Close()
	}()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := io.Copy(offsetWriter(w), f)
	if err != nil {
		return n, errors.Wrapf(err, "cannot copy %s", s.path(key))
	}
	return n, nil
}
