// Package tracefile opens trace inputs and creates outputs, compressing and
// decompressing them with gzip when the path ends in ".gz".
package tracefile

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// GzipExt is the extension that selects gzip (de)compression. It is matched
// case-insensitively.
const GzipExt = ".gz"

// IsGzip tells if path selects gzip (de)compression.
func IsGzip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), GzipExt)
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (r *gzipReadCloser) Close() error {
	err := r.Reader.Close()

	if cerr := r.file.Close(); err == nil {
		err = cerr
	}

	return err
}

// Open opens path for reading.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	if !IsGzip(path) {
		return f, nil
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "decompressing %s", path)
	}

	return &gzipReadCloser{Reader: zr, file: f}, nil
}

type gzipWriteCloser struct {
	*gzip.Writer
	file *os.File
}

func (w *gzipWriteCloser) Close() error {
	err := w.Writer.Close()

	if cerr := w.file.Close(); err == nil {
		err = cerr
	}

	return err
}

// Create creates or truncates path for writing. The caller must Close the
// writer for the output to be complete.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}

	if !IsGzip(path) {
		return f, nil
	}

	return &gzipWriteCloser{Writer: gzip.NewWriter(f), file: f}, nil
}

// WriteFile creates path and fills it using write.
func WriteFile(path string, write func(w io.Writer) error) error {
	w, err := Create(path)
	if err != nil {
		return err
	}

	if err := write(w); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing %s", path)
	}

	return errors.Wrapf(w.Close(), "closing %s", path)
}
