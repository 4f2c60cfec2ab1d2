// Package traceparser turns a Chrome performance trace into span trees, one
// forest per trace, and collects the user timing records it contains.
//
// A Parser is configured once with a Builder and can parse any number of
// traces. Each parse starts from a fresh state, so parsing the same input
// twice gives the same result.
package traceparser

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/sarchlab/tracetree/threads"
	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/tracefile"
	"github.com/sarchlab/tracetree/tracetree"
	"github.com/sarchlab/tracetree/usertiming"
)

// Result is what a parse produces.
type Result struct {
	Forest *tracetree.Forest

	// Threads lists the tracked threads ordered by id.
	Threads []threads.Thread

	// MainThread is empty if no main thread was found.
	MainThread traceevent.ThreadKey

	UserTiming *usertiming.Collector
	Stats      Stats

	// Err is set if the trace could not be read. The result is then empty.
	Err error
}

func emptyResult(err error) *Result {
	return &Result{
		Forest:     tracetree.NewForest(),
		Threads:    []threads.Thread{},
		UserTiming: usertiming.NewCollector(),
		Err:        err,
	}
}

// Parser parses traces.
type Parser struct {
	log               logrus.FieldLogger
	clock             clockz.Clock
	localServerPrefix string
	rootHandlers      []tracetree.RootHandler
}

// Builder can build parsers.
type Builder struct {
	log               logrus.FieldLogger
	clock             clockz.Clock
	localServerPrefix string
	rootHandlers      []tracetree.RootHandler
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	discard := logrus.New()
	discard.Out = io.Discard

	return Builder{
		log:               discard,
		clock:             clockz.RealClock,
		localServerPrefix: threads.DefaultLocalServerPrefix,
	}
}

// WithLogger sets the logger that the parser reports to.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	b.log = log
	return b
}

// WithClock sets the clock used to measure how long a parse takes.
func (b Builder) WithClock(clock clockz.Clock) Builder {
	b.clock = clock
	return b
}

// WithLocalServerPrefix sets the URL prefix of the local instrumentation
// server. Threads requesting such URLs before the main thread is found are
// never tracked.
func (b Builder) WithLocalServerPrefix(prefix string) Builder {
	b.localServerPrefix = prefix
	return b
}

// WithRootHandler adds a handler that is called every time a root span
// completes.
func (b Builder) WithRootHandler(h tracetree.RootHandler) Builder {
	b.rootHandlers = append(b.rootHandlers[:len(b.rootHandlers):len(b.rootHandlers)], h)
	return b
}

// Build creates a Parser.
func (b Builder) Build() *Parser {
	return &Parser{
		log:               b.log,
		clock:             b.clock,
		localServerPrefix: b.localServerPrefix,
		rootHandlers:      b.rootHandlers,
	}
}

// Process parses the trace stored at path. Files ending in ".gz" are
// decompressed. It never fails: if the trace cannot be read, the failure is
// logged and the result is empty with Err set.
func (p *Parser) Process(path string) *Result {
	log := p.log.WithField("path", path)

	r, err := tracefile.Open(path)
	if err != nil {
		return p.fail(log, path, err)
	}
	defer r.Close()

	return p.process(r, log, path)
}

// ProcessReader parses a trace from r.
func (p *Parser) ProcessReader(r io.Reader) *Result {
	return p.process(r, p.log, "")
}

func (p *Parser) process(
	r io.Reader,
	log logrus.FieldLogger,
	path string,
) *Result {
	start := p.clock.Now()
	ctx := p.newContext(log)

	err := ctx.consume(traceevent.NewDecoder(r))
	if err != nil {
		return p.fail(log, path, err)
	}

	res := ctx.result()
	res.Stats.Elapsed = p.clock.Since(start)

	log.WithFields(logrus.Fields{
		"records": res.Stats.Records,
		"threads": len(res.Threads),
		"roots":   len(res.Forest.Roots()),
		"elapsed": res.Stats.Elapsed,
	}).Info("trace processed")

	if res.Stats.OpenSpans > 0 {
		log.Warnf("%d spans never closed", res.Stats.OpenSpans)
	}

	return res
}

func (p *Parser) fail(log logrus.FieldLogger, path string, err error) *Result {
	log.WithError(err).Error("error processing trace")
	return emptyResult(&Error{Kind: ErrFileAccess, Path: path, Err: err})
}

// WriteUserTiming writes the user timing records of res to path as one JSON
// array. Nothing is written if there are none.
func (p *Parser) WriteUserTiming(res *Result, path string) error {
	_, err := res.UserTiming.WriteFile(path)
	if err != nil {
		return p.failOutput(path, "user timing", err)
	}

	return nil
}

// WriteTree writes the span forest of res to path as a JSON array of root
// spans.
func (p *Parser) WriteTree(res *Result, path string) error {
	err := tracefile.WriteFile(path, res.Forest.WriteJSON)
	if err != nil {
		return p.failOutput(path, "span tree", err)
	}

	return nil
}

func (p *Parser) failOutput(path, what string, err error) error {
	p.log.WithField("path", path).
		WithError(err).
		Errorf("error writing %s", what)

	return &Error{Kind: ErrOutputWrite, Path: path, Err: err}
}
