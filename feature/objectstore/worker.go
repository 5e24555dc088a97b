package objectstore

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sync"
	"time"

	"localsync/core/codec"
	"localsync/core/localtree"
	"localsync/core/metrics"
	"localsync/core/storage"
	"localsync/core/transfer"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// idleWait bounds how long a worker sleeps on an empty queue before it
// checks for cancellation again.
const idleWait = 500 * time.Millisecond

// Worker moves the items of a transfer queue between the sync root and a
// bucket.
type Worker struct {
	client storage.Client
	bucket string
	prefix string
	fs     afero.Fs
	root   string
	queue  *transfer.Queue
	cfg    transfer.Config
	logger *zap.Logger

	mu       sync.Mutex
	attempts map[*transfer.Item]int
}

// NewWorker returns a worker for queue. root is the absolute sync root on fs.
func NewWorker(client storage.Client, bucket, prefix string, fs afero.Fs, root string, queue *transfer.Queue, cfg transfer.Config, logger *zap.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		fs:       fs,
		root:     root,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		attempts: make(map[*transfer.Item]int),
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, dir := range []transfer.Direction{transfer.Get, transfer.Put} {
		dir := dir
		for i := 0; i < w.cfg.Workers; i++ {
			g.Go(func() error {
				w.loop(ctx, dir)
				return nil
			})
		}
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, dir transfer.Direction) {
	for ctx.Err() == nil {
		if !w.RunOnce(ctx, dir) {
			w.queue.Wait(idleWait)
		}
	}
}

// RunOnce processes the oldest queued item of dir. It reports false when
// there was nothing to do.
func (w *Worker) RunOnce(ctx context.Context, dir transfer.Direction) bool {
	it := w.queue.Next(dir)
	if it == nil {
		return false
	}
	// Another worker may have claimed it first.
	if err := w.queue.Start(it); err != nil {
		return true
	}

	var err error
	if dir == transfer.Put {
		err = w.put(ctx, it)
	} else {
		err = w.get(ctx, it)
	}
	w.settle(ctx, it, err)
	metrics.SetQueueDepth(dir.String(), w.queue.Len(dir))
	return true
}

func (w *Worker) settle(ctx context.Context, it *transfer.Item, err error) {
	log := w.logger.With(zap.String("direction", it.Direction.String()), zap.String("target", it.Target))

	if err == nil {
		w.forget(it)
		if err := w.queue.Completed(it); err != nil && !errors.Is(err, transfer.ErrNotQueued) {
			log.Warn("Failed to complete transfer", zap.Error(err))
		}
		return
	}
	if errors.Is(err, transfer.ErrNotQueued) || errors.Is(err, transfer.ErrInvalidState) {
		// Removed by the engine while running.
		w.forget(it)
		return
	}
	if ctx.Err() != nil {
		_ = w.queue.Requeue(it)
		return
	}

	w.mu.Lock()
	w.attempts[it]++
	n := w.attempts[it]
	w.mu.Unlock()

	if n < w.cfg.MaxAttempts {
		log.Warn("Transfer failed, retrying", zap.Int("attempt", n), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.RetryDelay):
		}
		_ = w.queue.Requeue(it)
		return
	}

	log.Error("Transfer failed", zap.Int("attempts", n), zap.Error(err))
	w.forget(it)
	_ = w.queue.Failed(it, err)
}

func (w *Worker) forget(it *transfer.Item) {
	w.mu.Lock()
	delete(w.attempts, it)
	w.mu.Unlock()
}

func (w *Worker) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

func (w *Worker) put(ctx context.Context, it *transfer.Item) error {
	p := w.abs(it.Target)
	f, err := w.fs.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", it.Target, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", it.Target, err)
	}
	size := fi.Size()

	fp, err := localtree.ComputeFingerprint(w.fs, p, size)
	if err != nil {
		return err
	}
	if err := w.tagChunks(it, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", it.Target, err)
	}

	key := storage.ObjectKey(w.prefix, it.Target)
	info, err := w.client.PutObject(ctx, w.bucket, key, f, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{metaFingerprint: encodeFingerprint(fp)},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.queue.Update(it, size); err != nil {
		return err
	}
	w.logger.Debug("Uploaded", zap.String("key", key), zap.Int64("size", size))
	return w.queue.SetRemote(it, HandleOf(key, info.ETag))
}

// tagChunks records an MD5 tag for every chunk of f.
func (w *Worker) tagChunks(it *transfer.Item, f io.Reader) error {
	buf := make([]byte, w.cfg.ChunkSize)
	var pos int64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			mac := codec.ChunkMAC{MAC: md5.Sum(buf[:n]), Offset: int64(n), Finished: true}
			if err := w.queue.AddChunkMAC(it, pos, mac); err != nil {
				return err
			}
			pos += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", it.Target, err)
		}
	}
}

func (w *Worker) get(ctx context.Context, it *transfer.Item) error {
	key := storage.ObjectKey(w.prefix, it.Target)
	obj, err := w.client.GetObject(ctx, w.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Close()

	dir := w.abs(path.Dir(it.Target))
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(w.fs, dir, localtree.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, &progressReader{r: obj, it: it, queue: w.queue})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = w.fs.Remove(tmpName)
		return fmt.Errorf("download %s: %w", key, err)
	}

	if err := w.fs.Rename(tmpName, w.abs(it.Target)); err != nil {
		_ = w.fs.Remove(tmpName)
		return fmt.Errorf("install %s: %w", it.Target, err)
	}
	w.logger.Debug("Downloaded", zap.String("key", key), zap.Int64("size", n))
	return nil
}

type progressReader struct {
	r     io.Reader
	it    *transfer.Item
	queue *transfer.Queue
	done  int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if uerr := p.queue.Update(p.it, p.done); uerr != nil {
			return n, uerr
		}
	}
	return n, err
}
