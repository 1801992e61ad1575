package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/mount"
)

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
	// MaxPackSize rejects objects larger than this many bytes; zero is unlimited.
	MaxPackSize int64

	Logger *log.Logger
}

// S3Source fetches pack objects from an S3 compatible bucket.
type S3Source struct {
	log    *log.Logger
	client *minio.Client
	bucket string
	prefix string
	limit  int64
}

func NewS3Source(cfg *Config) (*S3Source, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: remote source needs an endpoint and a bucket", data.ErrInvalid)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewDiscard()
	}

	return &S3Source{
		log:    logger,
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		limit:  cfg.MaxPackSize,
	}, nil
}

func (*S3Source) Name() string {
	return "s3"
}

// Open verifies that the bucket exists.
func (s *S3Source) Open(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: checking bucket %s: %v", data.ErrIO, s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %s", data.ErrNotExist, s.bucket)
	}
	return nil
}

// Fetch downloads the object stored under key.
func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	object := s.objectKey(key)

	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError("fetch", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, s.wrapError("fetch", key, err)
	}
	if s.limit > 0 && info.Size > s.limit {
		return nil, &data.PathError{Op: "fetch", Path: key, Err: fmt.Errorf("%w: object of %s exceeds %s",
			data.ErrOutOfBudget, humanize.IBytes(uint64(info.Size)), humanize.IBytes(uint64(s.limit)))}
	}

	block := make([]byte, info.Size)
	if _, err := io.ReadFull(obj, block); err != nil {
		return nil, s.wrapError("fetch", key, err)
	}

	s.log.Debug("Fetch: downloaded %s (%s)", object, humanize.IBytes(uint64(info.Size)))
	return block, nil
}

// List returns the keys, relative to the configured prefix, that match the
// wildcard pattern, e.g. "paks/*.pak".
func (s *S3Source) List(ctx context.Context, pattern string) ([]string, error) {
	pattern = strings.TrimLeft(data.ToSlash(pattern), "/")
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, data.MalformedPath("list", pattern, err.Error())
	}

	static := pattern
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		static = pattern[:i]
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectKey(static),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, s.wrapError("list", pattern, obj.Err)
		}

		key := strings.TrimPrefix(obj.Key, s.prefix+"/")
		if s.prefix == "" {
			key = obj.Key
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}

	slices.Sort(keys)
	return keys, nil
}

// Mount fetches key and mounts it as a preloaded in-memory pack under the
// virtual path key.
func (s *S3Source) Mount(ctx context.Context, vfs *pakfs.VirtualFileSystem, key, bindingRoot string, flags archive.Flags) error {
	block, err := s.Fetch(ctx, key)
	if err != nil {
		return err
	}

	if err := vfs.OpenPack(ctx, key, bindingRoot, flags|archive.FlagInMemoryCPU, mount.WithPreloaded(block)); err != nil {
		return err
	}

	s.log.Info("Mount: mounted %s from bucket %s", key, s.bucket)
	return nil
}

// MountAll mounts every object matching pattern and reports per-pack results.
func (s *S3Source) MountAll(ctx context.Context, vfs *pakfs.VirtualFileSystem, pattern, bindingRoot string, flags archive.Flags) ([]mount.Result, error) {
	keys, err := s.List(ctx, pattern)
	if err != nil {
		return nil, err
	}

	results := make([]mount.Result, 0, len(keys))
	for _, key := range keys {
		err := s.Mount(ctx, vfs, key, bindingRoot, flags)
		if err != nil {
			s.log.Warn("MountAll: failed to mount %s: %v", key, err)
		}
		results = append(results, mount.Result{Path: key, Err: err})
	}
	return results, nil
}

func (s *S3Source) objectKey(key string) string {
	key = strings.TrimLeft(data.ToSlash(key), "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Source) wrapError(op, key string, err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return &data.PathError{Op: op, Path: key, Err: fmt.Errorf("%w: %s", data.ErrNotExist, resp.Message)}
		case "AccessDenied":
			return &data.PathError{Op: op, Path: key, Err: fmt.Errorf("%w: %s", data.ErrPermission, resp.Message)}
		}
	}
	return &data.PathError{Op: op, Path: key, Err: fmt.Errorf("%w: %v", data.ErrIO, err)}
}
