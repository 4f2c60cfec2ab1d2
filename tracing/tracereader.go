package tracing

import "context"

// TaskQuery is used to define the tasks to be queried. Not all the field has to
// be set. If the fields are empty, the criteria is ignored.
type TaskQuery struct {
	// Use ID to select a single task by its ID.
	ID string

	// Use ParentID to select all the tasks that are children of a task.
	ParentID string

	// RootsOnly selects the tasks without a parent.
	RootsOnly bool

	// Use Kind to select all the tasks that are of a category.
	Kind string

	// Use What to select all the tasks that have a name.
	What string

	// Use Where to select all the tasks of a thread key.
	Where string

	// Enable selection by sequential thread id.
	EnableThreadID bool
	ThreadID       int

	// Enable time range selection.
	EnableTimeRange bool

	// Use StartTime to select tasks that overlaps with the given task range.
	StartTime, EndTime int64

	// EnableParentTask will also query the parent task of the selected tasks.
	EnableParentTask bool

	// Limit caps the number of tasks returned. Zero means no limit.
	Limit int
}

// TraceReader can read tasks back from a trace store.
type TraceReader interface {
	// ListThreads returns the thread keys ordered by thread id.
	ListThreads(ctx context.Context) ([]string, error)

	// ListTasks queries tasks ordered by start time.
	ListTasks(ctx context.Context, query TaskQuery) ([]Task, error)
}
