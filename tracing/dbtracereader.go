package tracing

import (
	"context"
	"strings"

	"github.com/sarchlab/tracetree/datarecording"
)

// DBTraceReader reads tasks from a database written by a DBTraceWriter.
type DBTraceReader struct {
	reader datarecording.DataReader
}

// NewDBTraceReader creates a DBTraceReader.
func NewDBTraceReader(reader datarecording.DataReader) *DBTraceReader {
	reader.MapTable(SpanTable, taskTableEntry{})
	reader.MapTable(ThreadTable, threadTableEntry{})

	return &DBTraceReader{reader: reader}
}

// ListThreads returns the thread keys ordered by thread id.
func (r *DBTraceReader) ListThreads(ctx context.Context) ([]string, error) {
	rows, _, err := r.reader.Query(ctx, ThreadTable,
		datarecording.QueryParams{OrderBy: "ID"})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.(*threadTableEntry).Key)
	}

	return keys, nil
}

// ListTasks queries tasks ordered by start time.
func (r *DBTraceReader) ListTasks(
	ctx context.Context,
	query TaskQuery,
) ([]Task, error) {
	rows, _, err := r.reader.Query(ctx, SpanTable, taskQueryParams(query))
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.(*taskTableEntry).task())
	}

	if query.EnableParentTask {
		if err := r.attachParents(ctx, tasks); err != nil {
			return nil, err
		}
	}

	return tasks, nil
}

func (r *DBTraceReader) attachParents(ctx context.Context, tasks []Task) error {
	for i := range tasks {
		if tasks[i].IsRoot() {
			continue
		}

		parents, err := r.ListTasks(ctx, TaskQuery{ID: tasks[i].ParentID})
		if err != nil {
			return err
		}

		if len(parents) > 0 {
			tasks[i].ParentTask = &parents[0]
		}
	}

	return nil
}

func (e *taskTableEntry) task() Task {
	return Task{
		ID:        e.ID,
		ParentID:  e.ParentID,
		Kind:      e.Kind,
		What:      e.What,
		Where:     e.Location,
		ThreadID:  e.ThreadID,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
	}
}

func taskQueryParams(query TaskQuery) datarecording.QueryParams {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, values ...any) {
		conds = append(conds, cond)
		args = append(args, values...)
	}

	if query.ID != "" {
		add("ID = ?", query.ID)
	}

	if query.ParentID != "" {
		add("ParentID = ?", query.ParentID)
	}

	if query.RootsOnly {
		add("ParentID = ''")
	}

	if query.Kind != "" {
		add("Kind = ?", query.Kind)
	}

	if query.What != "" {
		add("What = ?", query.What)
	}

	if query.Where != "" {
		add("Location = ?", query.Where)
	}

	if query.EnableThreadID {
		add("ThreadID = ?", query.ThreadID)
	}

	if query.EnableTimeRange {
		add("EndTime > ? AND StartTime < ?", query.StartTime, query.EndTime)
	}

	return datarecording.QueryParams{
		Where:   strings.Join(conds, " AND "),
		Args:    args,
		OrderBy: "StartTime, CAST(ID AS INTEGER)",
		Limit:   query.Limit,
	}
}
