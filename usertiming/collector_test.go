package usertiming

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/tracefile"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func mark(name string) *traceevent.Record {
	return traceevent.NewRecord(map[string]any{
		"cat":  Category,
		"name": name,
		"ts":   json.Number("5"),
	})
}

var _ = Describe("Collector", func() {
	var (
		c   *Collector
		dir string
	)

	BeforeEach(func() {
		c = NewCollector()
		dir = GinkgoT().TempDir()
	})

	It("should report empty when nothing was collected", func() {
		records, ok := c.Export()

		Expect(ok).To(BeFalse())
		Expect(records).To(BeEmpty())
		Expect(c.Len()).To(Equal(0))
	})

	It("should keep arrival order", func() {
		c.Append(mark("b"))
		c.Append(mark("a"))
		c.Append(mark("c"))

		records, ok := c.Export()

		Expect(ok).To(BeTrue())
		Expect(records).To(HaveLen(3))
		Expect(records[0].Name()).To(Equal("b"))
		Expect(records[1].Name()).To(Equal("a"))
		Expect(records[2].Name()).To(Equal("c"))
	})

	It("should not let callers change the collection", func() {
		c.Append(mark("a"))

		records, _ := c.Export()
		records[0] = mark("z")

		again, _ := c.Export()
		Expect(again[0].Name()).To(Equal("a"))
	})

	It("should not create a file when empty", func() {
		path := filepath.Join(dir, "user.json")

		written, err := c.WriteFile(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeFalse())
		_, err = os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should write a JSON array", func() {
		c.Append(mark("a"))
		c.Append(mark("b"))
		path := filepath.Join(dir, "user.json.gz")

		written, err := c.WriteFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeTrue())

		r, err := tracefile.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		var out []map[string]any
		Expect(json.NewDecoder(r).Decode(&out)).To(Succeed())
		Expect(out).To(HaveLen(2))
		Expect(out[0]["name"]).To(Equal("a"))
		Expect(out[1]["cat"]).To(Equal(Category))
		Expect(out[1]["ts"]).To(BeEquivalentTo(5))
	})

	It("should report write failures", func() {
		c.Append(mark("a"))
		path := filepath.Join(dir, "missing", "user.json")

		written, err := c.WriteFile(path)

		Expect(err).To(HaveOccurred())
		Expect(written).To(BeFalse())
	})
})
