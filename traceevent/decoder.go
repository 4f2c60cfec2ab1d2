package traceevent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// unitCutset is trimmed from both ends of every unit. Traces are often
// written as a JSON array split over lines, so a unit may carry the comma
// and brackets that joined it to its neighbours.
const unitCutset = " \t\r\n,[]"

// UnitOutcome tells what happened to one unit of the input.
type UnitOutcome int

// Outcomes of decoding a unit.
const (
	UnitDecoded UnitOutcome = iota
	UnitBlank
	UnitMalformed
)

func (o UnitOutcome) String() string {
	switch o {
	case UnitDecoded:
		return "decoded"
	case UnitBlank:
		return "blank"
	case UnitMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// A Unit is the result of decoding one line of the input.
type Unit struct {
	Line    int
	Outcome UnitOutcome
	Records []*Record
	Err     error
}

// Decoder reads trace records from a stream, one line at a time. A line
// that cannot be decoded is skipped and does not stop the stream.
type Decoder struct {
	r       *bufio.Reader
	line    int
	pending []*Record
	err     error
	done    bool
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r: bufio.NewReader(r),
	}
}

// NextUnit reads and decodes the next line. It returns false at the end of
// the stream or when reading fails; Err tells the two apart.
func (d *Decoder) NextUnit() (Unit, bool) {
	if d.done {
		return Unit{}, false
	}

	raw, err := d.r.ReadBytes('\n')
	if err != nil {
		d.done = true

		if err != io.EOF {
			d.err = errors.Wrapf(err, "reading line %d", d.line+1)
			return Unit{}, false
		}

		if len(raw) == 0 {
			return Unit{}, false
		}
	}

	d.line++

	return decodeUnit(d.line, raw), true
}

// Next returns the next record, skipping units that hold none.
func (d *Decoder) Next() (*Record, bool) {
	for len(d.pending) == 0 {
		unit, ok := d.NextUnit()
		if !ok {
			return nil, false
		}

		d.pending = unit.Records
	}

	rec := d.pending[0]
	d.pending = d.pending[1:]

	return rec, true
}

// Err returns the error that ended the stream early, if any.
func (d *Decoder) Err() error {
	return d.err
}

func decodeUnit(line int, raw []byte) Unit {
	unit := Unit{Line: line}

	trimmed := bytes.Trim(raw, unitCutset)
	if len(trimmed) == 0 {
		unit.Outcome = UnitBlank
		return unit
	}

	doc, err := parseDocument(trimmed)
	if err != nil {
		unit.Outcome = UnitMalformed
		unit.Err = errors.Wrapf(err, "line %d", line)

		return unit
	}

	records, err := splitDocument(doc)
	if err != nil {
		unit.Outcome = UnitMalformed
		unit.Err = errors.Wrapf(err, "line %d", line)

		return unit
	}

	unit.Outcome = UnitDecoded
	unit.Records = records

	return unit
}

func parseDocument(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after document")
	}

	return doc, nil
}

func splitDocument(doc any) ([]*Record, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("document is not an object")
	}

	container, ok := obj[ContainerField]
	if !ok {
		return []*Record{NewRecord(obj)}, nil
	}

	events, ok := container.([]any)
	if !ok {
		return nil, errors.Errorf("%s is not an array", ContainerField)
	}

	records := make([]*Record, 0, len(events))
	for _, e := range events {
		fields, ok := e.(map[string]any)
		if !ok {
			continue
		}

		records = append(records, NewRecord(fields))
	}

	return records, nil
}
