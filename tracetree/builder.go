package tracetree

import (
	"github.com/sarchlab/tracetree/traceevent"
)

// StepOutcome tells what a record did to the forest.
type StepOutcome int

// Outcomes of Builder.Step.
const (
	// StepOpened means a begin record opened a span.
	StepOpened StepOutcome = iota
	// StepClosed means an end record closed the open span of the same name.
	StepClosed
	// StepCompleted means a record with a duration produced a closed span.
	StepCompleted
	// StepStrayEnd means an end record arrived while no span was open. The
	// record is dropped.
	StepStrayEnd
	// StepMismatch means an end record did not match the name of the
	// innermost open span. That span is discarded, and the end record is
	// dropped.
	StepMismatch
	// StepSkipped means the record could not take part in nesting, e.g.
	// because its duration is not a number.
	StepSkipped
)

func (o StepOutcome) String() string {
	switch o {
	case StepOpened:
		return "opened"
	case StepClosed:
		return "closed"
	case StepCompleted:
		return "completed"
	case StepStrayEnd:
		return "stray end"
	case StepMismatch:
		return "mismatch"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// A RootHandler is notified every time a span completes with no open span
// around it.
type RootHandler interface {
	HandleRoot(f *Forest, id NodeID)
}

// Builder nests spans using one stack of open spans per thread.
type Builder struct {
	forest   *Forest
	stacks   map[traceevent.ThreadKey][]NodeID
	handlers []RootHandler
}

// NewBuilder creates a Builder with an empty forest.
func NewBuilder() *Builder {
	return &Builder{
		forest: NewForest(),
		stacks: make(map[traceevent.ThreadKey][]NodeID),
	}
}

// AddRootHandler registers a handler that is called for each new root.
func (b *Builder) AddRootHandler(h RootHandler) {
	b.handlers = append(b.handlers, h)
}

// Forest returns the forest being built.
func (b *Builder) Forest() *Forest {
	return b.forest
}

// OpenSpans returns the number of spans that are still open.
func (b *Builder) OpenSpans() int {
	n := 0
	for _, stack := range b.stacks {
		n += len(stack)
	}

	return n
}

// Step applies one record of the given thread. The record must have a
// timestamp and either a begin or end phase or a duration.
func (b *Builder) Step(
	rec *traceevent.Record,
	key traceevent.ThreadKey,
	threadID int,
) StepOutcome {
	ts, ok := rec.Timestamp()
	if !ok {
		return StepSkipped
	}

	switch {
	case rec.Phase() == traceevent.PhaseEnd:
		return b.end(rec, key, ts)
	case rec.Phase() == traceevent.PhaseBegin:
		id := b.newNode(rec, key, threadID, ts)
		b.stacks[key] = append(b.stacks[key], id)

		return StepOpened
	case rec.HasDuration():
		dur, ok := rec.Duration()
		if !ok {
			return StepSkipped
		}

		id := b.newNode(rec, key, threadID, ts)
		n := b.forest.Node(id)
		n.End = ts + max(dur, 0)
		n.Closed = true

		b.attach(key, id)

		return StepCompleted
	default:
		return StepSkipped
	}
}

func (b *Builder) end(
	rec *traceevent.Record,
	key traceevent.ThreadKey,
	ts int64,
) StepOutcome {
	stack := b.stacks[key]
	if len(stack) == 0 {
		return StepStrayEnd
	}

	top := stack[len(stack)-1]
	b.stacks[key] = stack[:len(stack)-1]

	n := b.forest.Node(top)
	if n.Name() != rec.Name() {
		n.Discarded = true
		return StepMismatch
	}

	n.End = max(ts, n.Start)
	n.Closed = true

	b.attach(key, top)

	return StepClosed
}

func (b *Builder) newNode(
	rec *traceevent.Record,
	key traceevent.ThreadKey,
	threadID int,
	ts int64,
) NodeID {
	return b.forest.add(Node{
		Record:   rec,
		Thread:   key,
		ThreadID: threadID,
		Start:    ts,
	})
}

func (b *Builder) attach(key traceevent.ThreadKey, id NodeID) {
	stack := b.stacks[key]
	if len(stack) > 0 {
		parent := b.forest.Node(stack[len(stack)-1])
		parent.Children = append(parent.Children, id)

		return
	}

	b.forest.addRoot(id)

	for _, h := range b.handlers {
		h.HandleRoot(b.forest, id)
	}
}
