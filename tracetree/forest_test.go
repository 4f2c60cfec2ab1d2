package tracetree

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Forest", func() {
	var b *Builder

	BeforeEach(func() {
		b = NewBuilder()
		b.Step(event("B", "A", 0), thread, 0)
		b.Step(event("B", "C", 1), thread, 0)
		b.Step(event("E", "C", 2), thread, 0)
		b.Step(complete("D", 3, 1), thread, 0)
		b.Step(event("E", "A", 5), thread, 0)
		b.Step(complete("R", 6, 2), thread, 0)
	})

	It("should walk parents before children", func() {
		var visited []string
		var depths []int

		b.Forest().Walk(func(n *Node, _ NodeID, depth int) bool {
			visited = append(visited, n.Name())
			depths = append(depths, depth)

			return true
		})

		Expect(visited).To(Equal([]string{"A", "C", "D", "R"}))
		Expect(depths).To(Equal([]int{0, 1, 1, 0}))
	})

	It("should skip children when asked", func() {
		var visited []string

		b.Forest().Walk(func(n *Node, _ NodeID, _ int) bool {
			visited = append(visited, n.Name())
			return false
		})

		Expect(visited).To(Equal([]string{"A", "R"}))
	})

	It("should marshal nested nodes", func() {
		data, err := json.Marshal(b.Forest())
		Expect(err).NotTo(HaveOccurred())

		var roots []map[string]any
		Expect(json.Unmarshal(data, &roots)).To(Succeed())
		Expect(roots).To(HaveLen(2))

		a := roots[0]
		Expect(a["type"]).To(Equal("A"))
		Expect(a["name"]).To(Equal("A"))
		Expect(a["tsStart"]).To(BeEquivalentTo(0))
		Expect(a["tsEnd"]).To(BeEquivalentTo(5))
		Expect(a["thread"]).To(BeEquivalentTo(0))
		Expect(a["children"]).To(HaveLen(2))

		r := roots[1]
		Expect(r).NotTo(HaveKey("children"))
		Expect(r["dur"]).To(BeEquivalentTo(2))
	})

	It("should stream the same roots", func() {
		buf := bytes.NewBuffer(nil)
		Expect(b.Forest().WriteJSON(buf)).To(Succeed())

		var streamed, marshaled []any
		Expect(json.Unmarshal(buf.Bytes(), &streamed)).To(Succeed())

		data, err := json.Marshal(b.Forest())
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, &marshaled)).To(Succeed())

		Expect(streamed).To(Equal(marshaled))
	})

	It("should write an empty array for an empty forest", func() {
		buf := bytes.NewBuffer(nil)
		Expect(NewForest().WriteJSON(buf)).To(Succeed())

		var roots []any
		Expect(json.Unmarshal(buf.Bytes(), &roots)).To(Succeed())
		Expect(roots).To(BeEmpty())
	})
})
