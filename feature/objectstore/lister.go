package objectstore

import (
	"context"
	"fmt"
	"strings"

	"localsync/core/codec"
	"localsync/core/reconcile"
	"localsync/core/storage"

	"github.com/minio/minio-go/v7"
)

// Lister reads the remote tree from a bucket and applies local moves and
// removals to it.
type Lister struct {
	client storage.Client
	bucket string
	prefix string
}

var _ reconcile.RemoteMutator = (*Lister)(nil)

// NewLister returns a Lister over the objects below prefix.
func NewLister(client storage.Client, bucket, prefix string) *Lister {
	return &Lister{client: client, bucket: bucket, prefix: prefix}
}

// List returns every object below the prefix keyed by its relative path.
// Folder markers are skipped.
func (l *Lister) List(ctx context.Context) (map[string]reconcile.RemoteEntry, error) {
	opts := minio.ListObjectsOptions{
		Recursive:    true,
		WithMetadata: true,
	}
	if p := strings.Trim(l.prefix, "/"); p != "" {
		opts.Prefix = p + "/"
	}

	index := make(map[string]reconcile.RemoteEntry)
	for obj := range l.client.ListObjects(ctx, l.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", l.bucket, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		rel, ok := storage.RelativePath(l.prefix, obj.Key)
		if !ok {
			continue
		}

		entry := reconcile.RemoteEntry{
			Handle:  HandleOf(obj.Key, obj.ETag),
			Path:    rel,
			Size:    obj.Size,
			ModTime: obj.LastModified.Unix(),
		}
		entry.Fingerprint, entry.HasFingerprint = fingerprintOf(obj.UserMetadata)
		index[rel] = entry
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return index, nil
}

// Move copies the object at from to to and removes the original. It returns
// the handle of the copy.
func (l *Lister) Move(ctx context.Context, from, to string, h codec.Handle) (codec.Handle, error) {
	src := storage.ObjectKey(l.prefix, from)
	info, err := l.verify(ctx, src, h)
	if err != nil {
		return codec.UndefHandle, err
	}

	dst := storage.ObjectKey(l.prefix, to)
	up, err := l.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: l.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: l.bucket, Object: src, MatchETag: info.ETag},
	)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "PreconditionFailed" {
			return codec.UndefHandle, reconcile.ErrRemoteChanged
		}
		return codec.UndefHandle, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := l.client.RemoveObject(ctx, l.bucket, src, minio.RemoveObjectOptions{}); err != nil {
		return codec.UndefHandle, fmt.Errorf("failed to remove %s: %w", src, err)
	}
	return HandleOf(dst, up.ETag), nil
}

// Delete removes the object at rel.
func (l *Lister) Delete(ctx context.Context, rel string, h codec.Handle) error {
	key := storage.ObjectKey(l.prefix, rel)
	if _, err := l.verify(ctx, key, h); err != nil {
		return err
	}
	if err := l.client.RemoveObject(ctx, l.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// verify checks that key still holds the version h.
func (l *Lister) verify(ctx context.Context, key string, h codec.Handle) (minio.ObjectInfo, error) {
	info, err := l.client.StatObject(ctx, l.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return info, reconcile.ErrRemoteNotFound
		}
		return info, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if HandleOf(key, info.ETag) != h {
		return info, reconcile.ErrRemoteChanged
	}
	return info, nil
}
