// Package traceevent decodes Chrome trace files into raw trace event
// records.
//
// The format is Google's Trace Event Format. Records are kept as decoded so
// that they can be written back out without losing fields this package
// does not interpret.
package traceevent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field names used by the trace event format.
const (
	FieldCategory  = "cat"
	FieldName      = "name"
	FieldTimestamp = "ts"
	FieldPhase     = "ph"
	FieldDuration  = "dur"
	FieldProcessID = "pid"
	FieldThreadID  = "tid"
	FieldArgs      = "args"
)

// ContainerField is the field of a trace document that holds the events.
const ContainerField = "traceEvents"

// A Phase tells how a record takes part in span nesting.
type Phase int

// Phases of trace records.
const (
	PhaseOther Phase = iota
	PhaseBegin
	PhaseEnd
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseBegin:
		return "B"
	case PhaseEnd:
		return "E"
	case PhaseComplete:
		return "X"
	default:
		return "other"
	}
}

// ParsePhase converts the value of a "ph" field into a Phase.
func ParsePhase(ph string) Phase {
	switch ph {
	case "B":
		return PhaseBegin
	case "E":
		return PhaseEnd
	case "X":
		return PhaseComplete
	default:
		return PhaseOther
	}
}

// ThreadKey identifies a traced thread by its process id and thread id, as
// they appear in the source record.
type ThreadKey string

// MakeThreadKey builds the key "pid:tid".
func MakeThreadKey(pid, tid any) ThreadKey {
	return ThreadKey(fmt.Sprintf("%v:%v", pid, tid))
}

// A Record is one decoded trace event.
type Record struct {
	fields map[string]any
}

// NewRecord wraps decoded fields into a Record. Numbers are expected to be
// json.Number values, but float64 and integer values are accepted too.
func NewRecord(fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}

	return &Record{fields: fields}
}

// Fields returns the underlying fields. The map is shared with the record.
func (r *Record) Fields() map[string]any {
	return r.fields
}

// Has tells if the record carries the field.
func (r *Record) Has(field string) bool {
	_, ok := r.fields[field]
	return ok
}

// String returns the field if it is a string.
func (r *Record) String(field string) (string, bool) {
	s, ok := r.fields[field].(string)
	return s, ok
}

// Int returns the field if it is a number. Fractional numbers are
// truncated.
func (r *Record) Int(field string) (int64, bool) {
	return toInt64(r.fields[field])
}

// Category returns the "cat" field, or an empty string.
func (r *Record) Category() string {
	s, _ := r.String(FieldCategory)
	return s
}

// Name returns the "name" field, or an empty string.
func (r *Record) Name() string {
	s, _ := r.String(FieldName)
	return s
}

// Timestamp returns the "ts" field.
func (r *Record) Timestamp() (int64, bool) {
	return r.Int(FieldTimestamp)
}

// Phase returns the phase given by the "ph" field.
func (r *Record) Phase() Phase {
	ph, _ := r.String(FieldPhase)
	return ParsePhase(ph)
}

// HasDuration tells if the record carries a "dur" field.
func (r *Record) HasDuration() bool {
	return r.Has(FieldDuration)
}

// Duration returns the "dur" field.
func (r *Record) Duration() (int64, bool) {
	return r.Int(FieldDuration)
}

// SetDuration sets the "dur" field.
func (r *Record) SetDuration(d int64) {
	r.fields[FieldDuration] = json.Number(strconv.FormatInt(d, 10))
}

// HasCoreFields tells if the record has a string category, a string name
// and a numeric timestamp. Records without them are never processed.
func (r *Record) HasCoreFields() bool {
	if _, ok := r.String(FieldCategory); !ok {
		return false
	}

	if _, ok := r.String(FieldName); !ok {
		return false
	}

	_, ok := r.Timestamp()

	return ok
}

// HasThreadFields tells if the record has process id, thread id and phase
// fields.
func (r *Record) HasThreadFields() bool {
	return r.Has(FieldProcessID) && r.Has(FieldThreadID) && r.Has(FieldPhase)
}

// ThreadKey returns the key of the thread that emitted the record.
func (r *Record) ThreadKey() ThreadKey {
	return MakeThreadKey(r.fields[FieldProcessID], r.fields[FieldThreadID])
}

// RequestURL returns args.data.url if it is a string.
func (r *Record) RequestURL() (string, bool) {
	args, ok := r.fields[FieldArgs].(map[string]any)
	if !ok {
		return "", false
	}

	data, ok := args["data"].(map[string]any)
	if !ok {
		return "", false
	}

	url, ok := data["url"].(string)

	return url, ok
}

// InCategory tells if the category contains the given substring.
func (r *Record) InCategory(substr string) bool {
	return strings.Contains(r.Category(), substr)
}

// MarshalJSON writes the record fields as a JSON object.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}

		f, err := n.Float64()
		if err != nil {
			return 0, false
		}

		return int64(f), true
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
