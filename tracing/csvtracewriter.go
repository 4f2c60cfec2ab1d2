package tracing

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tracetree/tracefile"
)

var csvHeader = []string{
	"ID", "ParentID", "Kind", "What", "Where", "ThreadID", "Start", "End",
}

// CSVTraceWriter is a trace writer that can store the tasks into a CSV file.
type CSVTraceWriter struct {
	path   string
	file   io.WriteCloser
	csv    *csv.Writer
	closed bool

	tasks      []Task
	bufferSize int
}

// NewCSVTraceWriter creates a new CSVTraceWriter. Paths ending in ".gz" are
// compressed. An empty path picks a unique file name.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Path returns the path of the CSV file.
func (t *CSVTraceWriter) Path() string {
	return t.path
}

// Init creates the csv file. If the file already exists, it will be
// overwritten.
func (t *CSVTraceWriter) Init() error {
	if t.path == "" {
		t.path = "tracetree_tasks_" + xid.New().String() + ".csv"
	}

	file, err := tracefile.Create(t.path)
	if err != nil {
		return err
	}

	t.file = file
	t.csv = csv.NewWriter(file)

	if err := t.csv.Write(csvHeader); err != nil {
		return errors.Wrapf(err, "writing %s", t.path)
	}

	atexit.Register(func() { t.Close() })

	return nil
}

// Write buffers a task.
func (t *CSVTraceWriter) Write(task Task) error {
	t.tasks = append(t.tasks, task)
	if len(t.tasks) >= t.bufferSize {
		return t.Flush()
	}

	return nil
}

// Flush writes the buffered tasks to the CSV file.
func (t *CSVTraceWriter) Flush() error {
	if t.csv == nil {
		return errors.New("csv trace writer is not initialized")
	}

	for _, task := range t.tasks {
		err := t.csv.Write([]string{
			task.ID,
			task.ParentID,
			task.Kind,
			task.What,
			task.Where,
			strconv.Itoa(task.ThreadID),
			strconv.FormatInt(task.StartTime, 10),
			strconv.FormatInt(task.EndTime, 10),
		})
		if err != nil {
			return errors.Wrapf(err, "writing %s", t.path)
		}
	}

	t.tasks = nil
	t.csv.Flush()

	return errors.Wrapf(t.csv.Error(), "writing %s", t.path)
}

// Close flushes the tasks and closes the file.
func (t *CSVTraceWriter) Close() error {
	if t.closed || t.file == nil {
		return nil
	}

	t.closed = true

	err := t.Flush()

	if cerr := t.file.Close(); err == nil {
		err = errors.Wrapf(cerr, "closing %s", t.path)
	}

	return err
}
