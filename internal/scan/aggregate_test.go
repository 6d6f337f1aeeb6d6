package scan

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/sirim-scanner/internal/label"
)

var _ = Describe("Aggregate", func() {
	var (
		rules     *label.RuleSet
		extractor *label.Extractor
		validator *label.Validator
		agg       *Aggregate
	)

	fold := func(text string) {
		agg.CountFrame()
		agg.Fold(validator.Validate(extractor.Extract(text)))
	}

	foldFields := func(fields map[label.FieldKey]string) {
		agg.CountFrame()
		agg.Fold(validator.Validate(fields))
	}

	BeforeEach(func() {
		rules = label.DefaultRules()
		extractor = label.NewExtractor(rules)
		validator = label.NewValidator(rules)
		agg = NewAggregate(rules.Keys(), rules.Required())
	})

	When("nothing has been folded", func() {
		It("is empty with zero confidence", func() {
			snap := agg.Snapshot()
			Expect(snap.State).To(Equal(StateEmpty))
			Expect(snap.Confidence).To(BeZero())
			Expect(snap.Fields).To(BeEmpty())
		})
	})

	When("a frame has only optional fields", func() {
		BeforeEach(func() {
			fold("Model: Z1 Size: M")
		})

		It("is partial", func() {
			Expect(agg.State()).To(Equal(StatePartial))
		})

		It("holds the fields", func() {
			Expect(agg.Snapshot().Values).To(Equal(map[label.FieldKey]string{
				label.Model: "Z1",
				label.Size:  "M",
			}))
		})
	})

	When("a frame has a valid serial", func() {
		BeforeEach(func() {
			fold("Serial: AB12345")
		})

		It("is ready", func() {
			Expect(agg.State()).To(Equal(StateReady))
		})
	})

	When("two frames each hold part of the label", func() {
		BeforeEach(func() {
			fold("Serial: AB12345")
			fold("Model: Z1")
		})

		It("merges both", func() {
			values := agg.Snapshot().Values
			Expect(values).To(HaveKeyWithValue(label.SerialNumber, "AB12345"))
			Expect(values).To(HaveKeyWithValue(label.Model, "Z1"))
		})

		It("counts both frames", func() {
			Expect(agg.Snapshot().Frames).To(Equal(2))
		})
	})

	Describe("merging", func() {
		It("keeps the first valid value over a later one", func() {
			fold("Serial: AB12345 Model: Z1")
			fold("Serial: CD67890 Model: Z2")
			values := agg.Snapshot().Values
			Expect(values).To(HaveKeyWithValue(label.SerialNumber, "AB12345"))
			Expect(values).To(HaveKeyWithValue(label.Model, "Z1"))
		})

		It("never erases a field with a frame that lacks it", func() {
			fold("Serial: AB12345 Brand: Acme")
			fold("Serial: AB12345")
			Expect(agg.Snapshot().Values).To(HaveKeyWithValue(label.Brand, "Acme"))
		})

		It("upgrades a warning to a valid value", func() {
			foldFields(map[label.FieldKey]string{label.Model: "Z1 *#"})
			Expect(agg.Snapshot().Fields[0].Status).To(Equal(label.Warning))

			fold("Model: Z1")
			snap := agg.Snapshot()
			Expect(snap.Fields[0].Status).To(Equal(label.Valid))
			Expect(snap.Values).To(HaveKeyWithValue(label.Model, "Z1"))
		})

		It("does not downgrade a valid value to a warning", func() {
			fold("Model: Z1")
			foldFields(map[label.FieldKey]string{label.Model: "Q9 *#"})
			snap := agg.Snapshot()
			Expect(snap.Fields[0].Status).To(Equal(label.Valid))
			Expect(snap.Values).To(HaveKeyWithValue(label.Model, "Z1"))
		})

		It("ignores invalid serials", func() {
			fold("Serial: A-1")
			Expect(agg.State()).To(Equal(StateEmpty))
		})
	})

	Describe("confidence", func() {
		It("never decreases while frames agree on the serial", func() {
			previous := 0.0
			for i := 0; i < 6; i++ {
				fold("Serial: AB12345 Model: Z1")
				confidence := agg.Snapshot().Confidence
				Expect(confidence).To(BeNumerically(">=", previous))
				previous = confidence
			}
		})

		It("stays within 0 and 1", func() {
			for i := 0; i < 50; i++ {
				fold(fullLabel)
			}
			Expect(agg.Snapshot().Confidence).To(BeNumerically("<=", 1))
			Expect(agg.Snapshot().Confidence).To(BeNumerically(">", 0.9))
		})

		It("drops when a frame disagrees on the serial", func() {
			fold("Serial: AB12345")
			fold("Serial: AB12345")
			agreed := agg.Snapshot().Confidence
			fold("Serial: CD67890")
			Expect(agg.Snapshot().Confidence).To(BeNumerically("<", agreed))
		})

		It("weights warnings at half a valid field", func() {
			foldFields(map[label.FieldKey]string{label.Model: "Z1 *#"})
			warned := agg.Snapshot().Confidence
			agg.Reset()
			fold("Model: Z1")
			Expect(agg.Snapshot().Confidence).To(BeNumerically("~", warned*2, 1e-9))
		})
	})

	Describe("Reset", func() {
		It("discards everything", func() {
			fold(fullLabel)
			agg.Reset()
			snap := agg.Snapshot()
			Expect(snap.State).To(Equal(StateEmpty))
			Expect(snap.Frames).To(BeZero())
			Expect(snap.Values).To(BeEmpty())
		})
	})
})
