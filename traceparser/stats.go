package traceparser

import (
	"time"

	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/tracetree"
)

// DispatchOutcome tells where a decoded record went.
type DispatchOutcome int

// Outcomes of dispatching a record.
const (
	// DispatchUserTiming means the record went to the user timing
	// collection.
	DispatchUserTiming DispatchOutcome = iota
	// DispatchTimeline means the record belongs to a tracked thread.
	DispatchTimeline
	// DispatchUntracked means the record is a timeline record of a thread
	// that is not tracked.
	DispatchUntracked
	// DispatchIrrelevant means the record is neither user timing nor
	// timeline data.
	DispatchIrrelevant
	// DispatchIncomplete means the record lacks a category, a name or a
	// timestamp.
	DispatchIncomplete
)

func (o DispatchOutcome) String() string {
	switch o {
	case DispatchUserTiming:
		return "user timing"
	case DispatchTimeline:
		return "timeline"
	case DispatchUntracked:
		return "untracked"
	case DispatchIrrelevant:
		return "irrelevant"
	case DispatchIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Stats counts what happened during a parse.
type Stats struct {
	Units          int `json:"units"`
	BlankUnits     int `json:"blank_units"`
	MalformedUnits int `json:"malformed_units"`
	Records        int `json:"records"`

	UserTiming int `json:"user_timing"`
	Timeline   int `json:"timeline"`
	Untracked  int `json:"untracked"`
	Irrelevant int `json:"irrelevant"`
	Incomplete int `json:"incomplete"`

	Opened     int `json:"opened"`
	Closed     int `json:"closed"`
	Completed  int `json:"completed"`
	StrayEnds  int `json:"stray_ends"`
	Mismatches int `json:"mismatches"`
	Skipped    int `json:"skipped"`

	// OpenSpans is the number of spans never closed by the end of the
	// trace.
	OpenSpans int `json:"open_spans"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

func (s *Stats) countUnit(o traceevent.UnitOutcome) {
	s.Units++

	switch o {
	case traceevent.UnitBlank:
		s.BlankUnits++
	case traceevent.UnitMalformed:
		s.MalformedUnits++
	}
}

func (s *Stats) countDispatch(o DispatchOutcome) {
	switch o {
	case DispatchUserTiming:
		s.UserTiming++
	case DispatchTimeline:
		s.Timeline++
	case DispatchUntracked:
		s.Untracked++
	case DispatchIrrelevant:
		s.Irrelevant++
	case DispatchIncomplete:
		s.Incomplete++
	}
}

func (s *Stats) countStep(o tracetree.StepOutcome) {
	switch o {
	case tracetree.StepOpened:
		s.Opened++
	case tracetree.StepClosed:
		s.Closed++
	case tracetree.StepCompleted:
		s.Completed++
	case tracetree.StepStrayEnd:
		s.StrayEnds++
	case tracetree.StepMismatch:
		s.Mismatches++
	case tracetree.StepSkipped:
		s.Skipped++
	}
}
