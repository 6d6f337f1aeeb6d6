package record

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/sirim-scanner/internal/label"
)

var _ = Describe("Record", func() {
	var record *Record

	BeforeEach(func() {
		record = FromFields(map[label.FieldKey]string{
			label.SerialNumber: "AB12345",
			label.Brand:        "Acme Electric",
			label.Rating:       "230V 13A",
			"voltage":          "ignored",
		})
	})

	It("maps label fields onto the record", func() {
		Expect(record.SerialNumber).To(Equal("AB12345"))
		Expect(record.Brand).To(Equal("Acme Electric"))
		Expect(record.Field(label.Rating)).To(Equal("230V 13A"))
	})

	It("lists values in export column order", func() {
		Expect(record.Values()).To(Equal([]string{"AB12345", "", "Acme Electric", "", "", "230V 13A", ""}))
	})

	DescribeTable("Matches",
		func(query string, expected bool) {
			Expect(record.Matches(query)).To(Equal(expected))
		},
		Entry("empty query", "", true),
		Entry("serial substring", "b123", true),
		Entry("brand ignoring case", "ACME", true),
		Entry("rating", "13a", true),
		Entry("no field", "philips", false),
	)
})
