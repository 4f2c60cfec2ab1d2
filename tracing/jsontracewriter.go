package tracing

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tracetree/tracefile"
)

// JSONTraceWriter writes tasks into a JSON array, one task per line.
type JSONTraceWriter struct {
	path      string
	file      io.WriteCloser
	w         *bufio.Writer
	firstTask bool
	closed    bool
}

// NewJSONTraceWriter creates a JSONTraceWriter that writes to path. Paths
// ending in ".gz" are compressed.
func NewJSONTraceWriter(path string) *JSONTraceWriter {
	return &JSONTraceWriter{
		path:      path,
		firstTask: true,
	}
}

// Init creates the file and opens the array.
func (t *JSONTraceWriter) Init() error {
	file, err := tracefile.Create(t.path)
	if err != nil {
		return err
	}

	t.file = file
	t.w = bufio.NewWriter(file)

	if _, err := t.w.WriteString("["); err != nil {
		return errors.Wrapf(err, "writing %s", t.path)
	}

	atexit.Register(func() { t.Close() })

	return nil
}

// Write writes a task.
func (t *JSONTraceWriter) Write(task Task) error {
	sep := ",\n"
	if t.firstTask {
		sep = "\n"
		t.firstTask = false
	}

	b, err := json.Marshal(task)
	if err != nil {
		return err
	}

	if _, err := t.w.WriteString(sep); err != nil {
		return errors.Wrapf(err, "writing %s", t.path)
	}

	if _, err := t.w.Write(b); err != nil {
		return errors.Wrapf(err, "writing %s", t.path)
	}

	return nil
}

// Flush pushes the buffered bytes to the file.
func (t *JSONTraceWriter) Flush() error {
	return errors.Wrapf(t.w.Flush(), "writing %s", t.path)
}

// Close closes the array and the file.
func (t *JSONTraceWriter) Close() error {
	if t.closed || t.file == nil {
		return nil
	}

	t.closed = true

	_, err := t.w.WriteString("\n]\n")
	if err == nil {
		err = t.Flush()
	}

	if cerr := t.file.Close(); err == nil {
		err = errors.Wrapf(cerr, "closing %s", t.path)
	}

	return err
}
