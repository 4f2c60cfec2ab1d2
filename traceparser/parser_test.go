package traceparser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing/iotest"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"

	"github.com/sarchlab/tracetree/threads"
	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/tracetree"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const mainRequest = `{"cat":"devtools.timeline","name":"ResourceSendRequest",` +
	`"ph":"I","pid":1,"tid":1,"ts":0,` +
	`"args":{"data":{"url":"https://example.com/"}}}`

func span(tid int, ph, name string, ts int64) string {
	return fmt.Sprintf(
		`{"cat":"devtools.timeline","name":%q,"ph":%q,"pid":1,"tid":%d,"ts":%d}`,
		name, ph, tid, ts)
}

func completeSpan(tid int, name string, ts, dur int64) string {
	return fmt.Sprintf(
		`{"cat":"disabled-by-default-devtools.timeline","name":%q,"ph":"X",`+
			`"pid":1,"tid":%d,"ts":%d,"dur":%d}`,
		name, tid, ts, dur)
}

func userMark(name string, ts int64) string {
	return fmt.Sprintf(
		`{"cat":"blink.user_timing","name":%q,"ph":"R","pid":1,"tid":1,"ts":%d}`,
		name, ts)
}

func trace(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func rootNames(res *Result) []string {
	var names []string
	for _, id := range res.Forest.Roots() {
		names = append(names, res.Forest.Node(id).Name())
	}

	return names
}

func allNames(res *Result) []string {
	var names []string
	res.Forest.Walk(func(n *tracetree.Node, _ tracetree.NodeID, _ int) bool {
		names = append(names, n.Name())
		return true
	})

	return names
}

func findRoot(res *Result, name string) *tracetree.Node {
	for _, id := range res.Forest.Roots() {
		if n := res.Forest.Node(id); n.Name() == name {
			return n
		}
	}

	return nil
}

type clockAdvancer struct {
	clock interface{ Advance(time.Duration) }
	step  time.Duration
}

func (a clockAdvancer) HandleRoot(*tracetree.Forest, tracetree.NodeID) {
	a.clock.Advance(a.step)
}

var _ = Describe("Parser", func() {
	var (
		p   *Parser
		dir string
	)

	parse := func(lines ...string) *Result {
		return p.ProcessReader(strings.NewReader(trace(lines...)))
	}

	BeforeEach(func() {
		p = MakeBuilder().Build()
		dir = GinkgoT().TempDir()
	})

	It("should make the requesting thread the main thread", func() {
		res := parse(mainRequest)

		Expect(res.Err).NotTo(HaveOccurred())
		Expect(res.MainThread).To(Equal(traceevent.ThreadKey("1:1")))
		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest"}))

		n := findRoot(res, "ResourceSendRequest")
		Expect(n.Start).To(Equal(int64(0)))
		Expect(n.End).To(Equal(int64(1)))
	})

	It("should turn a matched pair into one span", func() {
		res := parse(
			mainRequest,
			span(1, "B", "A", 10),
			span(1, "E", "A", 25),
		)

		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest", "A"}))

		a := findRoot(res, "A")
		Expect(a.Start).To(Equal(int64(10)))
		Expect(a.End).To(Equal(int64(25)))
		Expect(a.Children).To(BeEmpty())
		Expect(a.ThreadID).To(Equal(0))
	})

	It("should end a duration record after its duration", func() {
		res := parse(mainRequest, completeSpan(1, "X1", 100, 42))

		x := findRoot(res, "X1")
		Expect(x).NotTo(BeNil())
		Expect(x.End).To(Equal(x.Start + 42))
	})

	It("should nest spans", func() {
		res := parse(
			mainRequest,
			span(1, "B", "A", 1),
			span(1, "B", "C", 2),
			span(1, "E", "C", 3),
			span(1, "E", "A", 4),
		)

		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest", "A"}))
		Expect(allNames(res)).To(Equal([]string{"ResourceSendRequest", "A", "C"}))

		a := findRoot(res, "A")
		Expect(a.Children).To(HaveLen(1))
		Expect(res.Forest.Node(a.Children[0]).Name()).To(Equal("C"))
	})

	It("should drop a stray end", func() {
		res := parse(mainRequest, span(1, "E", "A", 5))

		Expect(res.Err).NotTo(HaveOccurred())
		Expect(allNames(res)).To(Equal([]string{"ResourceSendRequest"}))
		Expect(res.Stats.StrayEnds).To(Equal(1))
	})

	It("should discard the open span on a name mismatch", func() {
		res := parse(
			mainRequest,
			span(1, "B", "A", 1),
			span(1, "B", "C", 2),
			span(1, "E", "A", 3),
			span(1, "E", "A", 4),
		)

		Expect(res.Stats.Mismatches).To(Equal(1))
		Expect(allNames(res)).NotTo(ContainElement("C"))

		a := findRoot(res, "A")
		Expect(a).NotTo(BeNil())
		Expect(a.End).To(Equal(int64(4)))
	})

	It("should count spans left open", func() {
		res := parse(mainRequest, span(1, "B", "A", 1))

		Expect(res.Stats.OpenSpans).To(Equal(1))
		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest"}))
	})

	It("should never track the thread of the local server", func() {
		local := `{"cat":"devtools.timeline","name":"ResourceSendRequest",` +
			`"ph":"I","pid":1,"tid":9,"ts":0,` +
			`"args":{"data":{"url":"http://127.0.0.1:8888/run"}}}`

		res := parse(
			local,
			mainRequest,
			span(9, "B", "Hidden", 1),
			span(9, "E", "Hidden", 2),
			completeSpan(9, "AlsoHidden", 3, 1),
			span(1, "B", "Shown", 4),
			span(1, "E", "Shown", 5),
		)

		Expect(allNames(res)).To(Equal([]string{"ResourceSendRequest", "Shown"}))
		Expect(res.Threads).To(Equal([]threads.Thread{
			{Key: "1:1", ID: 0, Main: true},
		}))
		Expect(res.Stats.Untracked).To(Equal(4))
	})

	It("should honour a configured local server prefix", func() {
		p = MakeBuilder().WithLocalServerPrefix("https://example.com").Build()

		res := parse(mainRequest, span(1, "B", "A", 1), span(1, "E", "A", 2))

		Expect(res.MainThread).To(BeEmpty())
		Expect(res.Forest.Len()).To(Equal(0))
	})

	It("should number threads in order of appearance", func() {
		res := parse(
			span(7, "B", "Early", 0),
			span(7, "E", "Early", 1),
			strings.Replace(mainRequest, `"tid":1`, `"tid":2`, 1),
			completeSpan(3, "T3", 2, 1),
			`{"cat":"devtools.timeline","name":"Program","ph":"X",`+
				`"pid":1,"tid":5,"ts":3,"dur":1}`,
			completeSpan(7, "T7", 4, 1),
			completeSpan(5, "T5", 5, 1),
		)

		Expect(res.Threads).To(Equal([]threads.Thread{
			{Key: "1:2", ID: 0, Main: true},
			{Key: "1:3", ID: 1},
			{Key: "1:7", ID: 2},
			{Key: "1:5", ID: 3},
		}))

		Expect(findRoot(res, "Early")).To(BeNil())
		Expect(findRoot(res, "T5").ThreadID).To(Equal(3))
		Expect(findRoot(res, "T7").ThreadID).To(Equal(2))
	})

	It("should keep user timing out of the tree", func() {
		res := parse(
			userMark("first", 0),
			mainRequest,
			userMark("second", 1),
			span(1, "B", "A", 1),
			userMark("third", 2),
			span(1, "E", "A", 3),
		)

		Expect(allNames(res)).To(Equal([]string{"ResourceSendRequest", "A"}))

		records, ok := res.UserTiming.Export()
		Expect(ok).To(BeTrue())

		var names []string
		for _, r := range records {
			names = append(names, r.Name())
		}
		Expect(names).To(Equal([]string{"first", "second", "third"}))
		Expect(res.Stats.UserTiming).To(Equal(3))
	})

	It("should skip malformed lines and keep going", func() {
		res := parse(
			mainRequest,
			`{"cat": broken`,
			completeSpan(1, "One", 1, 1),
			`not json at all`,
			completeSpan(1, "Two", 2, 1),
			`{"truncated":`,
			completeSpan(1, "Three", 3, 1),
		)

		Expect(res.Err).NotTo(HaveOccurred())
		Expect(rootNames(res)).To(Equal(
			[]string{"ResourceSendRequest", "One", "Two", "Three"}))
		Expect(res.Stats.MalformedUnits).To(Equal(3))
	})

	It("should read a JSON array split over lines", func() {
		res := p.ProcessReader(strings.NewReader("[\n" +
			mainRequest + ",\n" +
			completeSpan(1, "One", 1, 1) + ",\n" +
			completeSpan(1, "Two", 2, 1) + "\n" +
			"]\n"))

		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest", "One", "Two"}))
		Expect(res.Stats.BlankUnits).To(Equal(2))
	})

	It("should read a trace document", func() {
		doc := `{"traceEvents":[` + mainRequest + "," +
			completeSpan(1, "One", 1, 1) + "]," +
			`"metadata":{"source":"test"}}`

		res := p.ProcessReader(strings.NewReader(doc))

		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest", "One"}))
	})

	It("should ignore records missing core fields", func() {
		res := parse(
			mainRequest,
			`{"cat":"devtools.timeline","name":"NoTs","ph":"X","pid":1,"tid":1,"dur":1}`,
			`{"name":"NoCat","ph":"X","pid":1,"tid":1,"ts":1,"dur":1}`,
			`{"cat":"__metadata","name":"thread_name","ph":"M","pid":1,"tid":1,"ts":0}`,
		)

		Expect(allNames(res)).To(Equal([]string{"ResourceSendRequest"}))
		Expect(res.Stats.Incomplete).To(Equal(2))
		Expect(res.Stats.Irrelevant).To(Equal(1))
	})

	It("should process gzip files", func() {
		path := filepath.Join(dir, "trace.json.GZ")

		buf := bytes.NewBuffer(nil)
		zw := gzip.NewWriter(buf)
		_, err := zw.Write([]byte(trace(mainRequest, completeSpan(1, "One", 1, 1))))
		Expect(err).NotTo(HaveOccurred())
		Expect(zw.Close()).To(Succeed())
		Expect(os.WriteFile(path, buf.Bytes(), 0o644)).To(Succeed())

		res := p.Process(path)

		Expect(res.Err).NotTo(HaveOccurred())
		Expect(rootNames(res)).To(Equal([]string{"ResourceSendRequest", "One"}))
	})

	It("should return an empty result if the file is missing", func() {
		res := p.Process(filepath.Join(dir, "missing.json"))

		Expect(errors.Is(res.Err, ErrFileAccess)).To(BeTrue())
		Expect(res.Forest.Len()).To(Equal(0))
		Expect(res.Threads).To(BeEmpty())
		Expect(res.UserTiming.Len()).To(Equal(0))
	})

	It("should return an empty result if reading fails midway", func() {
		r := io.MultiReader(
			strings.NewReader(trace(
				mainRequest,
				userMark("m", 1),
				completeSpan(1, "One", 1, 1),
			)),
			iotest.ErrReader(errors.New("device gone")),
		)

		res := p.ProcessReader(r)

		Expect(errors.Is(res.Err, ErrFileAccess)).To(BeTrue())
		Expect(res.Forest.Len()).To(Equal(0))
		Expect(res.UserTiming.Len()).To(Equal(0))
	})

	It("should give the same output for the same input", func() {
		input := filepath.Join(dir, "trace.json")
		Expect(os.WriteFile(input, []byte(trace(
			userMark("m1", 0),
			mainRequest,
			span(1, "B", "A", 1),
			completeSpan(1, "Y", 2, 1),
			span(1, "E", "A", 5),
			userMark("m2", 6),
			completeSpan(2, "Z", 7, 1),
		)), 0o644)).To(Succeed())

		outputs := make([][]byte, 0, 4)
		for i := 0; i < 2; i++ {
			res := p.Process(input)

			tree := filepath.Join(dir, fmt.Sprintf("tree%d.json", i))
			user := filepath.Join(dir, fmt.Sprintf("user%d.json", i))
			Expect(p.WriteTree(res, tree)).To(Succeed())
			Expect(p.WriteUserTiming(res, user)).To(Succeed())

			for _, path := range []string{tree, user} {
				data, err := os.ReadFile(path)
				Expect(err).NotTo(HaveOccurred())
				outputs = append(outputs, data)
			}
		}

		Expect(outputs[2]).To(Equal(outputs[0]))
		Expect(outputs[3]).To(Equal(outputs[1]))
	})

	It("should write the tree with annotations", func() {
		res := parse(
			mainRequest,
			span(1, "B", "A", 1),
			completeSpan(1, "Y", 2, 1),
			span(1, "E", "A", 5),
		)
		path := filepath.Join(dir, "tree.json")

		Expect(p.WriteTree(res, path)).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		var roots []map[string]any
		Expect(json.Unmarshal(data, &roots)).To(Succeed())
		Expect(roots).To(HaveLen(2))
		Expect(roots[0]["dur"]).To(BeEquivalentTo(1))
		Expect(roots[1]["type"]).To(Equal("A"))
		Expect(roots[1]["tsEnd"]).To(BeEquivalentTo(5))
		Expect(roots[1]["children"]).To(HaveLen(1))
	})

	It("should write no user timing file when there is none", func() {
		res := parse(mainRequest)
		path := filepath.Join(dir, "user.json")

		Expect(p.WriteUserTiming(res, path)).To(Succeed())

		_, err := os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should report output failures without touching the result", func() {
		res := parse(mainRequest, userMark("m", 1))
		path := filepath.Join(dir, "missing", "user.json")

		err := p.WriteUserTiming(res, path)
		Expect(errors.Is(err, ErrOutputWrite)).To(BeTrue())

		err = p.WriteTree(res, filepath.Join(dir, "missing", "tree.json"))
		Expect(errors.Is(err, ErrOutputWrite)).To(BeTrue())

		Expect(res.UserTiming.Len()).To(Equal(1))
		Expect(res.Err).NotTo(HaveOccurred())
	})

	It("should measure the parse with the clock", func() {
		clock := clockz.NewFakeClock()
		p = MakeBuilder().
			WithClock(clock).
			WithRootHandler(clockAdvancer{clock: clock, step: time.Second}).
			Build()

		res := parse(
			mainRequest,
			completeSpan(1, "One", 1, 1),
			completeSpan(1, "Two", 2, 1),
		)

		Expect(res.Stats.Elapsed).To(Equal(3 * time.Second))
	})
})
