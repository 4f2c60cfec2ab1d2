// Package tracing exports span trees as flat task lists and reads them back.
//
// A Task is one span. Tasks refer to their parent by id, so a forest can be
// stored in a CSV file, a JSON array or a SQLite table.
package tracing

import (
	"strconv"

	"github.com/sarchlab/tracetree/tracetree"
)

// A Task is a span of a thread.
type Task struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Kind      string `json:"kind"`
	What      string `json:"what"`
	Where     string `json:"where"`
	ThreadID  int    `json:"thread_id"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`

	ParentTask *Task `json:"-"`
}

// Duration returns EndTime - StartTime.
func (t Task) Duration() int64 {
	return t.EndTime - t.StartTime
}

// IsRoot tells if the task has no parent.
func (t Task) IsRoot() bool {
	return t.ParentID == ""
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// TaskID returns the task id of a node.
func TaskID(id tracetree.NodeID) string {
	return strconv.Itoa(int(id))
}

// TaskFromNode converts a node into a task. Kind is the category of the
// record that started the span, and What is its name.
func TaskFromNode(n *tracetree.Node, parent tracetree.NodeID) Task {
	t := Task{
		ID:        TaskID(n.ID),
		Kind:      n.Record.Category(),
		What:      n.Name(),
		Where:     string(n.Thread),
		ThreadID:  n.ThreadID,
		StartTime: n.Start,
		EndTime:   n.End,
	}

	if parent != tracetree.NoNode {
		t.ParentID = TaskID(parent)
	}

	return t
}
