package tracing

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/tracetree/tracetree"
)

// A TraceWriter stores tasks.
type TraceWriter interface {
	// Init prepares the destination. It must be called before Write.
	Init() error

	// Write buffers a task.
	Write(task Task) error

	// Flush writes the buffered tasks.
	Flush() error

	// Close flushes and releases the destination.
	Close() error
}

// ExportForest writes every node reachable from the roots of f to w,
// parents before children. A nil filter keeps all tasks. A task that is
// filtered out still acts as the parent of its children. It returns the
// number of tasks written.
func ExportForest(
	f *tracetree.Forest,
	w TraceWriter,
	filter TaskFilter,
) (int, error) {
	var (
		count int
		err   error
	)

	f.Walk(func(n *tracetree.Node, parent tracetree.NodeID, _ int) bool {
		if err != nil {
			return false
		}

		task := TaskFromNode(n, parent)
		if filter != nil && !filter(task) {
			return true
		}

		err = w.Write(task)
		if err == nil {
			count++
		}

		return true
	})

	if err != nil {
		return count, errors.Wrap(err, "exporting forest")
	}

	return count, errors.Wrap(w.Flush(), "exporting forest")
}
