package scan

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/sirim-scanner/internal/label"
)

var _ = Describe("classify", func() {
	var extractor *label.Extractor

	BeforeEach(func() {
		extractor = label.NewExtractor(label.DefaultRules())
	})

	It("treats blank text without a barcode as empty", func() {
		Expect(classify(extractor, RawRecognition{Text: "  \n "})).To(Equal(Empty{}))
	})

	It("ignores a barcode payload that was not decoded", func() {
		Expect(classify(extractor, RawRecognition{Barcode: "AB12345"})).To(Equal(Empty{}))
	})

	It("reports text without label fields as unreadable", func() {
		raw := RawRecognition{Text: "MADE IN MALAYSIA", FrameIndex: 3}
		Expect(classify(extractor, raw)).To(Equal(Unreadable{Raw: raw}))
	})

	It("extracts label fields", func() {
		rec := classify(extractor, RawRecognition{Text: "Serial: AB12345 Model: Z1"})
		Expect(rec).To(BeAssignableToTypeOf(Extracted{}))
		Expect(rec.(Extracted).Fields).To(Equal(map[label.FieldKey]string{
			label.SerialNumber: "AB12345",
			label.Model:        "Z1",
		}))
	})

	It("takes the serial from a bare QR payload", func() {
		rec := classify(extractor, RawRecognition{Text: "Model: Z1", Barcode: "AB12345", HasBarcode: true})
		Expect(rec.(Extracted).Fields).To(HaveKeyWithValue(label.SerialNumber, "AB12345"))
	})
})
