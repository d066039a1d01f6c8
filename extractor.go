package etlsri

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Extractor extracts source objects such as Cloud Storage objects.
type Extractor interface {
	Extract(context.Context, Object) (io.ReadCloser, error)
}

type storageExtractor struct {
	storage *storage.Client
}

// NewStorageExtractor builds an Extractor reading from Cloud Storage.
func NewStorageExtractor(c *storage.Client) Extractor {
	return &storageExtractor{storage: c}
}

func (e *storageExtractor) Extract(ctx context.Context, o Object) (io.ReadCloser, error) {
	r, err := e.storage.Bucket(o.Bucket).Object(o.Name).NewReader(ctx)
	if err != nil {
		return nil, classifyStorageError(xerrors.Errorf("failed to get reader of %s: %w", o.FullPath(), err))
	}

	log.Ctx(ctx).Debug().
		Str("object", o.FullPath()).
		Int64("size", r.Attrs.Size).
		Str("content_type", r.Attrs.ContentType).
		Msg("object reader opened")

	return r, nil
}

// Fetch downloads o into dest on fs, replacing whatever dest contained, and returns the number of bytes written.
// The parent directory of dest is created if missing. A failed copy removes dest, but callers
// must not rely on dest being untouched after an error.
func Fetch(ctx context.Context, ex Extractor, o Object, fs afero.Fs, dest string) (int64, error) {
	l := log.Ctx(ctx)

	r, err := ex.Extract(ctx, o)
	if err != nil {
		if KindOf(err) == 0 {
			err = remoteError(StageFetch, err)
		}
		return 0, err
	}
	defer r.Close()

	if dir := filepath.Dir(dest); dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return 0, configError(StageFetch, xerrors.Errorf("failed to create staging directory %s: %w", dir, err))
		}
	}

	f, err := fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, configError(StageFetch, xerrors.Errorf("failed to open staging file %s: %w", dest, err))
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := fs.Remove(dest); rerr != nil {
			l.Warn().Err(rerr).Str("path", dest).Msg("failed to remove partial staging file")
		}
		return n, remoteError(StageFetch, xerrors.Errorf("failed to download %s to %s: %w", o.FullPath(), dest, err))
	}

	l.Info().Str("object", o.FullPath()).Str("path", dest).Int64("bytes", n).Msg("object downloaded")

	return n, nil
}
