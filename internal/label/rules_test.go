package label

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const customRules = `
rules:
  - key: serialNumber
    keywords: ['Serial\s*No\.?']
    value: 'A-Z0-9'
    max_length: 12
    format: '^[A-Z0-9]{6}$'
    message: Serial must be six characters
    required: true
    uppercase: true
  - key: voltage
    keywords: ['Voltage']
    value: '0-9V '
    max_length: 10
`

var _ = Describe("Rules", func() {
	Describe("DefaultRules", func() {
		It("covers every field in column order", func() {
			Expect(DefaultRules().Keys()).To(Equal(Keys))
		})

		It("requires only the serial number", func() {
			Expect(DefaultRules().Required()).To(Equal([]FieldKey{SerialNumber}))
		})
	})

	Describe("ParseRules", func() {
		var (
			data  string
			rules *RuleSet
			err   error
		)

		JustBeforeEach(func() {
			rules, err = ParseRules([]byte(data))
		})

		When("the table is valid", func() {
			BeforeEach(func() {
				data = customRules
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("keeps the table order", func() {
				Expect(rules.Keys()).To(Equal([]FieldKey{SerialNumber, "voltage"}))
			})

			It("drives extraction", func() {
				fields := NewExtractor(rules).Extract("Serial No. ab1234 Voltage: 240V")
				Expect(fields).To(HaveKeyWithValue(FieldKey("voltage"), "240V"))
			})

			It("drives validation", func() {
				res := NewValidator(rules).Validate(map[FieldKey]string{SerialNumber: "ab12"})
				Expect(res.Errors).To(HaveKeyWithValue(SerialNumber, "Serial must be six characters"))
			})

			It("defaults the allowed characters to the value class", func() {
				r, ok := rules.Rule("voltage")
				Expect(ok).To(BeTrue())
				Expect(r.Allowed).To(Equal("0-9V "))
			})
		})

		When("a key is duplicated", func() {
			BeforeEach(func() {
				data = `
rules:
  - {key: size, keywords: [Size], value: 'A-Z', max_length: 4}
  - {key: size, keywords: [Dim], value: 'A-Z', max_length: 4}
`
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("duplicate key")))
			})
		})

		When("max_length is out of range", func() {
			BeforeEach(func() {
				data = `
rules:
  - {key: size, keywords: [Size], value: 'A-Z', max_length: 5000}
`
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("max_length")))
			})
		})

		When("a pattern does not compile", func() {
			BeforeEach(func() {
				data = `
rules:
  - {key: size, keywords: ['Size('], value: 'A-Z', max_length: 4}
`
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("compiling pattern")))
			})
		})

		When("the document has unknown fields", func() {
			BeforeEach(func() {
				data = `
rules:
  - {key: size, keywords: [Size], value: 'A-Z', max_length: 4, colour: red}
`
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		When("the table is empty", func() {
			BeforeEach(func() {
				data = "rules: []"
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("LoadRules", func() {
		It("reads a table from disk", func() {
			path := filepath.Join(GinkgoT().TempDir(), "rules.yaml")
			Expect(os.WriteFile(path, []byte(customRules), 0644)).To(Succeed())
			rules, err := LoadRules(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules.Required()).To(Equal([]FieldKey{SerialNumber}))
		})

		It("returns an error when the file is missing", func() {
			_, err := LoadRules(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
			Expect(err).To(MatchError(ContainSubstring("reading rules file")))
		})
	})
})
