package export

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/jszwec/csvutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/sirim-scanner/internal/label"
	"github.com/zombor/sirim-scanner/internal/record"
)

var expectedHeaders = []string{"SIRIM Serial No.", "Batch No.", "Brand/Trademark", "Model", "Type", "Rating", "Size"}

var _ = Describe("Export", func() {
	var (
		records []*record.Record
		buf     *bytes.Buffer
		err     error
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		records = []*record.Record{
			{ID: "1", SerialNumber: "AB12345", BatchNumber: "99-X", Brand: "Acme, Inc.", Model: "Z1", Type: "Standard", Rating: "10A", Size: "M"},
			{ID: "2", SerialNumber: "CD67890", Brand: "Société Générale Électrique"},
		}
	})

	It("uses the label header order", func() {
		Expect(label.Headers()).To(Equal(expectedHeaders))
		header, headerErr := csvutil.Header(csvRow{}, "csv")
		Expect(headerErr).NotTo(HaveOccurred())
		Expect(header).To(Equal(expectedHeaders))
	})

	Describe("ParseFormat", func() {
		DescribeTable("known formats",
			func(input string, expected Format) {
				format, parseErr := ParseFormat(input)
				Expect(parseErr).NotTo(HaveOccurred())
				Expect(format).To(Equal(expected))
			},
			Entry("csv", "csv", CSV),
			Entry("upper case", " XLSX ", XLSX),
			Entry("excel alias", "excel", XLSX),
			Entry("pdf", "pdf", PDF),
		)

		It("rejects unknown formats", func() {
			_, parseErr := ParseFormat("docx")
			Expect(parseErr).To(MatchError(ContainSubstring("unknown export format")))
		})

		It("names the download", func() {
			Expect(PDF.FileName()).To(Equal("sirim_records.pdf"))
			Expect(XLSX.ContentType()).To(ContainSubstring("spreadsheetml"))
		})
	})

	Describe("WriteCSV", func() {
		var rows [][]string

		JustBeforeEach(func() {
			err = Write(buf, CSV, records)
			Expect(err).NotTo(HaveOccurred())
			rows, err = csv.NewReader(buf).ReadAll()
		})

		It("writes the header and one row per record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0]).To(Equal(expectedHeaders))
		})

		It("quotes values containing commas", func() {
			Expect(rows[1]).To(Equal([]string{"AB12345", "99-X", "Acme, Inc.", "Z1", "Standard", "10A", "M"}))
		})

		It("writes empty cells for missing fields", func() {
			Expect(rows[2]).To(Equal([]string{"CD67890", "", "Société Générale Électrique", "", "", "", ""}))
		})

		When("there are no records", func() {
			BeforeEach(func() {
				records = nil
			})

			It("still writes the header", func() {
				Expect(rows).To(Equal([][]string{expectedHeaders}))
			})
		})
	})

	Describe("WriteXLSX", func() {
		var rows [][]string

		JustBeforeEach(func() {
			err = Write(buf, XLSX, records)
			Expect(err).NotTo(HaveOccurred())

			f, openErr := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
			Expect(openErr).NotTo(HaveOccurred())
			defer f.Close()
			Expect(f.GetSheetList()).To(Equal([]string{"SIRIM"}))
			rows, err = f.GetRows("SIRIM")
		})

		It("writes the header row", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[0]).To(Equal(expectedHeaders))
		})

		It("writes one row per record", func() {
			Expect(rows).To(HaveLen(3))
			Expect(rows[1]).To(Equal([]string{"AB12345", "99-X", "Acme, Inc.", "Z1", "Standard", "10A", "M"}))
			Expect(rows[2][0]).To(Equal("CD67890"))
			Expect(rows[2][2]).To(Equal("Société Générale Électrique"))
		})
	})

	Describe("WritePDF", func() {
		JustBeforeEach(func() {
			err = Write(buf, PDF, records)
		})

		It("writes a PDF document", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.HasPrefix(buf.String(), "%PDF-")).To(BeTrue())
		})

		When("there are many records", func() {
			BeforeEach(func() {
				for i := 0; i < 100; i++ {
					records = append(records, &record.Record{SerialNumber: "ZZ99999", Brand: strings.Repeat("Very Long Brand ", 10)})
				}
			})

			It("spans several pages", func() {
				Expect(err).NotTo(HaveOccurred())
				out := buf.String()
				pages := strings.Count(out, "/Type /Page") - strings.Count(out, "/Type /Pages")
				Expect(pages).To(BeNumerically(">", 1))
			})
		})
	})
})
