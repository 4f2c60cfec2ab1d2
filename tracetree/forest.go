// Package tracetree rebuilds nested spans from the flat begin/end and
// duration records of a trace.
//
// Spans live in a Forest, an arena of nodes addressed by NodeID. A node
// refers to its children by id and is owned by exactly one parent, or is a
// root of the forest.
package tracetree

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/sarchlab/tracetree/traceevent"
)

// NodeID addresses a node in a Forest.
type NodeID int

// NoNode is the parent of root nodes when walking a forest.
const NoNode NodeID = -1

// A Node is a span.
type Node struct {
	ID       NodeID
	Record   *traceevent.Record
	Thread   traceevent.ThreadKey
	ThreadID int

	Start int64
	End   int64

	// Closed is set once End is known.
	Closed bool

	// Discarded is set when the span was closed by an end record of another
	// name. Such a span is never attached to the forest.
	Discarded bool

	Children []NodeID
}

// Name returns the name of the record that started the span.
func (n *Node) Name() string {
	return n.Record.Name()
}

// Duration returns End - Start, or 0 if the span is not closed.
func (n *Node) Duration() int64 {
	if !n.Closed {
		return 0
	}

	return n.End - n.Start
}

// A Forest holds all the nodes created while processing one trace.
type Forest struct {
	nodes []Node
	roots []NodeID
}

// NewForest creates an empty Forest.
func NewForest() *Forest {
	return &Forest{}
}

// Len returns the number of nodes, including open and discarded ones.
func (f *Forest) Len() int {
	return len(f.nodes)
}

// Node returns the node with the given id. The pointer is only valid until
// the next node is added.
func (f *Forest) Node(id NodeID) *Node {
	return &f.nodes[id]
}

// Contains tells if id addresses a node of the forest.
func (f *Forest) Contains(id NodeID) bool {
	return id >= 0 && int(id) < len(f.nodes)
}

// Roots returns the roots in the order they completed.
func (f *Forest) Roots() []NodeID {
	return f.roots
}

// RootsOfThread returns the roots of one thread in completion order.
func (f *Forest) RootsOfThread(threadID int) []NodeID {
	var roots []NodeID

	for _, id := range f.roots {
		if f.nodes[id].ThreadID == threadID {
			roots = append(roots, id)
		}
	}

	return roots
}

// Walk visits every node reachable from the roots, parents before children.
// Returning false from fn skips the children of the node.
func (f *Forest) Walk(fn func(n *Node, parent NodeID, depth int) bool) {
	for _, root := range f.roots {
		f.walk(root, NoNode, 0, fn)
	}
}

func (f *Forest) walk(
	id, parent NodeID,
	depth int,
	fn func(n *Node, parent NodeID, depth int) bool,
) {
	n := &f.nodes[id]
	if !fn(n, parent, depth) {
		return
	}

	for _, child := range n.Children {
		f.walk(child, id, depth+1, fn)
	}
}

func (f *Forest) add(n Node) NodeID {
	n.ID = NodeID(len(f.nodes))
	f.nodes = append(f.nodes, n)

	return n.ID
}

func (f *Forest) addRoot(id NodeID) {
	f.roots = append(f.roots, id)
}

// NodeValue returns the node as the original record annotated with the
// thread id, the span type, its start and end, and its nested children.
func (f *Forest) NodeValue(id NodeID) map[string]any {
	n := &f.nodes[id]

	v := make(map[string]any, len(n.Record.Fields())+5)
	for k, field := range n.Record.Fields() {
		v[k] = field
	}

	v["thread"] = n.ThreadID
	v["type"] = n.Name()
	v["tsStart"] = n.Start

	if n.Closed {
		v["tsEnd"] = n.End
	}

	if len(n.Children) > 0 {
		children := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, f.NodeValue(child))
		}

		v["children"] = children
	}

	return v
}

// MarshalJSON writes the forest as an array of nested root nodes.
func (f *Forest) MarshalJSON() ([]byte, error) {
	roots := make([]any, 0, len(f.roots))
	for _, id := range f.roots {
		roots = append(roots, f.NodeValue(id))
	}

	return json.Marshal(roots)
}

// WriteJSON streams the forest to w, one root per line.
func (f *Forest) WriteJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString("["); err != nil {
		return err
	}

	for i, id := range f.roots {
		if i > 0 {
			if _, err := bw.WriteString(","); err != nil {
				return err
			}
		}

		b, err := json.Marshal(f.NodeValue(id))
		if err != nil {
			return err
		}

		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}

		if _, err := bw.Write(b); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString("\n]\n"); err != nil {
		return err
	}

	return bw.Flush()
}
