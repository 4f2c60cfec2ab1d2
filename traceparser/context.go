package traceparser

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/tracetree/threads"
	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/tracetree"
	"github.com/sarchlab/tracetree/usertiming"
)

const timelineCategory = "devtools.timeline"

// parseContext holds everything that changes while one trace is parsed.
type parseContext struct {
	log        logrus.FieldLogger
	threads    *threads.Registry
	builder    *tracetree.Builder
	userTiming *usertiming.Collector
	stats      Stats
}

func (p *Parser) newContext(log logrus.FieldLogger) *parseContext {
	c := &parseContext{
		log:        log,
		threads:    threads.NewRegistry(p.localServerPrefix),
		builder:    tracetree.NewBuilder(),
		userTiming: usertiming.NewCollector(),
	}

	for _, h := range p.rootHandlers {
		c.builder.AddRootHandler(h)
	}

	return c
}

func (c *parseContext) consume(d *traceevent.Decoder) error {
	for {
		unit, ok := d.NextUnit()
		if !ok {
			return d.Err()
		}

		c.stats.countUnit(unit.Outcome)

		if unit.Outcome == traceevent.UnitMalformed {
			c.log.WithField("line", unit.Line).
				WithError(unit.Err).
				Debug("skipping malformed line")

			continue
		}

		for _, rec := range unit.Records {
			c.stats.Records++
			c.stats.countDispatch(c.dispatch(rec))
		}
	}
}

func (c *parseContext) dispatch(rec *traceevent.Record) DispatchOutcome {
	if !rec.HasCoreFields() {
		return DispatchIncomplete
	}

	if rec.Category() == usertiming.Category {
		c.userTiming.Append(rec)
		return DispatchUserTiming
	}

	if !rec.InCategory(timelineCategory) || !rec.HasThreadFields() {
		return DispatchIrrelevant
	}

	key := rec.ThreadKey()
	if !c.threads.Admit(rec, key) {
		return DispatchUntracked
	}

	if rec.HasDuration() ||
		rec.Phase() == traceevent.PhaseBegin ||
		rec.Phase() == traceevent.PhaseEnd {
		c.step(rec, key)
	}

	return DispatchTimeline
}

func (c *parseContext) step(rec *traceevent.Record, key traceevent.ThreadKey) {
	id, _ := c.threads.ID(key)

	outcome := c.builder.Step(rec, key, id)
	c.stats.countStep(outcome)

	switch outcome {
	case tracetree.StepStrayEnd, tracetree.StepMismatch, tracetree.StepSkipped:
		c.log.WithFields(logrus.Fields{
			"thread": key,
			"name":   rec.Name(),
		}).Debugf("dropping record: %s", outcome)
	}
}

func (c *parseContext) result() *Result {
	c.stats.OpenSpans = c.builder.OpenSpans()

	main, _ := c.threads.MainThread()

	return &Result{
		Forest:     c.builder.Forest(),
		Threads:    c.threads.Threads(),
		MainThread: main,
		UserTiming: c.userTiming,
		Stats:      c.stats,
	}
}
