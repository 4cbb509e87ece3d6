package objectstore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

type gcsStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

func newGCSStore(ctx context.Context, config Config) (*gcsStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS client")
	}
	return &gcsStore{
		bucket: client.Bucket(config.Bucket),
		name:   config.Bucket,
		prefix: config.Prefix,
	}, nil
}

func (s *gcsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(joinKey(s.prefix, key)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, errors.Wrapf(err, "cannot stat gs://%s/%s", s.name, joinKey(s.prefix, key))
	}
}

func (s *gcsStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	items := s.bucket.Objects(ctx, &storage.Query{Prefix: joinKey(s.prefix, prefix)})
	for {
		item, err := items.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot list gs://%s/%s", s.name, joinKey(s.prefix, prefix))
		}
		objects = append(objects, Object{Key: trimKey(s.prefix, item.Name), Size: item.Size})
	}
	return objects, nil
}

func (s *gcsStore) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	r, err := s.bucket.Object(joinKey(s.prefix, key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "cannot open gs://%s/%s", s.name, joinKey(s.prefix, key))
	}
	defer func() {
		_ = r.Close()
	}()
	n, err := io.Copy(offsetWriter(w), r)
	if err != nil {
		return n, errors.Wrapf(err, "cannot download gs://%s/%s", s.name, joinKey(s.prefix, key))
	}
	return n, nil
}
