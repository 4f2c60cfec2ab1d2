package tracing

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/tracetree/datarecording"
	"github.com/sarchlab/tracetree/threads"
	"github.com/sarchlab/tracetree/traceevent"
)

// Table names used in trace databases.
const (
	SpanTable       = "spans"
	ThreadTable     = "threads"
	UserTimingTable = "user_timing"
)

type taskTableEntry struct {
	ID        string `recording:"index"`
	ParentID  string `recording:"index"`
	Kind      string `recording:"index"`
	What      string
	Location  string
	ThreadID  int `recording:"index"`
	StartTime int64
	EndTime   int64
}

type threadTableEntry struct {
	Key  string
	ID   int
	Main bool
}

type userTimingTableEntry struct {
	Name      string
	Category  string
	Timestamp int64
	Location  string
}

// DBTraceWriter stores tasks, threads and user timing records through a
// DataRecorder.
type DBTraceWriter struct {
	backend datarecording.DataRecorder
}

// NewDBTraceWriter creates a DBTraceWriter.
func NewDBTraceWriter(backend datarecording.DataRecorder) *DBTraceWriter {
	return &DBTraceWriter{backend: backend}
}

// Init creates the tables.
func (w *DBTraceWriter) Init() error {
	tables := []struct {
		name   string
		sample any
	}{
		{SpanTable, taskTableEntry{}},
		{ThreadTable, threadTableEntry{}},
		{UserTimingTable, userTimingTableEntry{}},
	}

	for _, t := range tables {
		if err := w.backend.CreateTable(t.name, t.sample); err != nil {
			return errors.Wrapf(err, "creating table %s", t.name)
		}
	}

	return nil
}

// Write buffers a task.
func (w *DBTraceWriter) Write(task Task) error {
	return w.backend.InsertData(SpanTable, taskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		ThreadID:  task.ThreadID,
		StartTime: task.StartTime,
		EndTime:   task.EndTime,
	})
}

// WriteThreads buffers the tracked threads.
func (w *DBTraceWriter) WriteThreads(list []threads.Thread) error {
	for _, t := range list {
		err := w.backend.InsertData(ThreadTable, threadTableEntry{
			Key:  string(t.Key),
			ID:   t.ID,
			Main: t.Main,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// WriteUserTiming buffers user timing records.
func (w *DBTraceWriter) WriteUserTiming(records []*traceevent.Record) error {
	for _, rec := range records {
		ts, _ := rec.Timestamp()

		err := w.backend.InsertData(UserTimingTable, userTimingTableEntry{
			Name:      rec.Name(),
			Category:  rec.Category(),
			Timestamp: ts,
			Location:  string(rec.ThreadKey()),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Flush writes the buffered rows.
func (w *DBTraceWriter) Flush() error {
	return w.backend.Flush()
}

// Close flushes and closes the database.
func (w *DBTraceWriter) Close() error {
	return w.backend.Close()
}
