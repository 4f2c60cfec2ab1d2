package traceevent

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func mustRecord(s string) *Record {
	d := NewDecoder(strings.NewReader(s))

	rec, ok := d.Next()
	Expect(ok).To(BeTrue())

	return rec
}

var _ = Describe("Record", func() {
	It("should read the core fields", func() {
		rec := mustRecord(`{"cat":"devtools.timeline","name":"Task","ts":10,` +
			`"ph":"B","pid":1,"tid":2}`)

		Expect(rec.HasCoreFields()).To(BeTrue())
		Expect(rec.HasThreadFields()).To(BeTrue())
		Expect(rec.Category()).To(Equal("devtools.timeline"))
		Expect(rec.Name()).To(Equal("Task"))
		Expect(rec.Phase()).To(Equal(PhaseBegin))
		Expect(rec.ThreadKey()).To(Equal(ThreadKey("1:2")))
		Expect(rec.InCategory("timeline")).To(BeTrue())
	})

	It("should reject records with a non-string category", func() {
		rec := mustRecord(`{"cat":5,"name":"Task","ts":10}`)

		Expect(rec.HasCoreFields()).To(BeFalse())
	})

	It("should reject records without a numeric timestamp", func() {
		rec := mustRecord(`{"cat":"c","name":"Task","ts":"soon"}`)

		Expect(rec.HasCoreFields()).To(BeFalse())
	})

	It("should keep thread ids as written", func() {
		rec := mustRecord(`{"pid":"browser","tid":7}`)

		Expect(rec.ThreadKey()).To(Equal(ThreadKey("browser:7")))
	})

	It("should truncate fractional numbers", func() {
		rec := mustRecord(`{"dur":12.9}`)

		d, ok := rec.Duration()
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(int64(12)))
	})

	It("should find the request url", func() {
		rec := mustRecord(`{"args":{"data":{"url":"http://example.com/"}}}`)

		url, ok := rec.RequestURL()
		Expect(ok).To(BeTrue())
		Expect(url).To(Equal("http://example.com/"))
	})

	It("should not find a url that is not a string", func() {
		rec := mustRecord(`{"args":{"data":{"url":3}}}`)

		_, ok := rec.RequestURL()
		Expect(ok).To(BeFalse())
	})

	It("should set the duration", func() {
		rec := mustRecord(`{"name":"a"}`)
		Expect(rec.HasDuration()).To(BeFalse())

		rec.SetDuration(1)

		d, ok := rec.Duration()
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(int64(1)))
	})

	It("should marshal the fields back", func() {
		rec := mustRecord(`{"name":"a","ts":1.50,"args":{"x":[1,2]}}`)

		b, err := json.Marshal(rec)

		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal(`{"args":{"x":[1,2]},"name":"a","ts":1.50}`))
	})

	It("should parse phases", func() {
		Expect(ParsePhase("B")).To(Equal(PhaseBegin))
		Expect(ParsePhase("E")).To(Equal(PhaseEnd))
		Expect(ParsePhase("X")).To(Equal(PhaseComplete))
		Expect(ParsePhase("I")).To(Equal(PhaseOther))
		Expect(ParsePhase("")).To(Equal(PhaseOther))
	})
})
