// Package usertiming collects the marks and measures that a page records
// through the User Timing API.
package usertiming

import (
	"encoding/json"
	"io"

	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/tracefile"
)

// Category is the trace category of user timing records.
const Category = "blink.user_timing"

// Collector keeps user timing records in arrival order.
type Collector struct {
	records []*traceevent.Record
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Append adds a record.
func (c *Collector) Append(rec *traceevent.Record) {
	c.records = append(c.records, rec)
}

// Len returns the number of records collected.
func (c *Collector) Len() int {
	return len(c.records)
}

// Export returns the collected records. It returns false if nothing was
// collected, in which case no output should be produced.
func (c *Collector) Export() ([]*traceevent.Record, bool) {
	if len(c.records) == 0 {
		return nil, false
	}

	out := make([]*traceevent.Record, len(c.records))
	copy(out, c.records)

	return out, true
}

// WriteJSON writes the records as one JSON array.
func (c *Collector) WriteJSON(w io.Writer) error {
	records := c.records
	if records == nil {
		records = []*traceevent.Record{}
	}

	return json.NewEncoder(w).Encode(records)
}

// WriteFile writes the records to path, compressed if path ends in ".gz".
// Nothing is written, and the file is not created, if no record was
// collected. It reports whether the file was written.
func (c *Collector) WriteFile(path string) (bool, error) {
	if len(c.records) == 0 {
		return false, nil
	}

	err := tracefile.WriteFile(path, c.WriteJSON)
	if err != nil {
		return false, err
	}

	return true, nil
}
