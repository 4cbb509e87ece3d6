package objectstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

// DefaultDownloadPartSize is the part size used for ranged S3 downloads.
const DefaultDownloadPartSize = units.MiB * 5

type s3Store struct {
	bucket     string
	prefix     string
	client     s3iface.S3API
	downloader *s3manager.Downloader
}

func newS3Store(config Config) (*s3Store, error) {
	// Credentials come from the environment, shared config or the instance role.
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AWS session")
	}
	client := s3.New(sess)
	return &s3Store{
		bucket: config.Bucket,
		prefix: config.Prefix,
		client: client,
		downloader: s3manager.NewDownloaderWithClient(client, func(d *s3manager.Downloader) {
			d.PartSize = DefaultDownloadPartSize
		}),
	}, nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err == nil {
		return true, nil
	}
	var aerr awserr.RequestFailure
	if errors.As(err, &aerr) && aerr.StatusCode() == 404 {
		return false, nil
	}
	return false, errors.Wrapf(err, "cannot stat s3://%s/%s", s.bucket, joinKey(s.prefix, key))
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(joinKey(s.prefix, prefix)),
		},
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				objects = append(objects, Object{
					Key:  trimKey(s.prefix, aws.StringValue(obj.Key)),
					Size: aws.Int64Value(obj.Size),
				})
			}
			return true
		})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list s3://%s/%s", s.bucket, joinKey(s.prefix, prefix))
	}
	return objects, nil
}

func (s *s3Store) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.DownloadWithContext(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return 0, errors.Wrap(ErrNotFound, key)
		}
		return 0, errors.Wrapf(err, "cannot download s3://%s/%s", s.bucket, joinKey(s.prefix, key))
	}
	return n, nil
}
