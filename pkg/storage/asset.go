package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"readerapp/internal/util"
	"readerapp/pkg/domain"
)

// URLPrefix is the path prefix under which stored covers are served.
const URLPrefix = "upload"

const (
	suffixLen      = 6
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// contentTypes lists the accepted cover extensions.
var contentTypes = map[string]string{
	"jpg": "image/jpeg",
	"gif": "image/gif",
	"png": "image/png",
	"bmp": "image/bmp",
}

// Ingestor stores uploaded cover images under a local directory and, when a
// mirror is set, in object storage as well.
type Ingestor struct {
	dir    string
	mirror ObjectStore
	now    func() time.Time
	intn   func(n int) int
}

// NewIngestor stores files in dir. mirror may be nil.
func NewIngestor(dir string, mirror ObjectStore) *Ingestor {
	return &Ingestor{
		dir:    dir,
		mirror: mirror,
		now:    time.Now,
		intn:   rand.IntN,
	}
}

// Dir is the local directory covers are written to.
func (i *Ingestor) Dir() string { return i.dir }

// Extension returns the lower-cased text after the last '.' of filename, or
// "" when there is none.
func Extension(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// Ingest stores the content of r under a fresh name derived from filename's
// extension and returns "upload/<name>". Any failure after the format check
// leaves nothing behind and is reported as a store error.
func (i *Ingestor) Ingest(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := Extension(filename)
	contentType, ok := contentTypes[ext]
	if !ok {
		return "", domain.ErrBadFormat
	}
	if r == nil {
		return "", domain.ErrMissingFile
	}
	logger := util.LoggerFromContext(ctx)

	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		logger.Error("create upload dir failed", "dir", i.dir, "err", err)
		return "", domain.StoreError("store upload failed", err)
	}

	name := i.fileName(ext)
	full := filepath.Join(i.dir, name)
	size, err := writeExclusive(full, r)
	if err != nil {
		logger.Error("write upload failed", "file", full, "err", err)
		return "", domain.StoreError("store upload failed", err)
	}

	if i.mirror != nil {
		if err := i.mirrorFile(ctx, full, name, size, contentType); err != nil {
			_ = os.Remove(full)
			logger.Error("mirror upload failed", "file", name, "err", err)
			return "", domain.StoreError("store upload failed", err)
		}
	}
	logger.Info("cover stored", "file", name, "bytes", size)
	return path.Join(URLPrefix, name), nil
}

func (i *Ingestor) fileName(ext string) string {
	var b strings.Builder
	b.Grow(suffixLen)
	for range suffixLen {
		b.WriteByte(suffixAlphabet[i.intn(len(suffixAlphabet))])
	}
	return fmt.Sprintf("%d_%s.%s", i.now().Unix(), b.String(), ext)
}

// writeExclusive refuses to overwrite an existing file and removes what it
// wrote on failure.
func writeExclusive(full string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(full)
		return 0, err
	}
	return n, nil
}

func (i *Ingestor) mirrorFile(ctx context.Context, full, key string, size int64, contentType string) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	return i.mirror.Put(ctx, key, f, size, contentType)
}
