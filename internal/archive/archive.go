// Package archive copies finished daily aggregates to an object-store
// bucket for long-term keeping. The bucket URL selects the driver
// (file://, s3://, gs://).
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Archiver uploads local files into a blob bucket, preserving their path
// relative to a base directory.
type Archiver struct {
	bucket *blob.Bucket
	log    *slog.Logger
}

// Open connects to the bucket named by url.
func Open(ctx context.Context, url string, log *slog.Logger) (*Archiver, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket %s: %w", url, err)
	}
	return &Archiver{bucket: bucket, log: log}, nil
}

// Upload copies one local file into the bucket under key.
func (a *Archiver) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}

	w, err := a.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	a.log.Info("archived", "key", key, "bytes", len(data))
	return nil
}

// UploadTree uploads every file under baseDir, keyed by its path relative
// to baseDir. Files that fail are logged and counted; the rest of the tree
// still uploads.
func (a *Archiver) UploadTree(ctx context.Context, baseDir string) (uploaded, failed int, err error) {
	err = filepath.WalkDir(baseDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(baseDir, path)
		if relErr != nil {
			return relErr
		}
		if upErr := a.Upload(ctx, path, filepath.ToSlash(rel)); upErr != nil {
			failed++
			a.log.Error("archive upload failed", "path", path, "error", upErr)
			return nil
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, failed, fmt.Errorf("walk %s: %w", baseDir, err)
	}
	return uploaded, failed, nil
}

// Close releases the bucket handle.
func (a *Archiver) Close() error {
	return a.bucket.Close()
}
