package record

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		db      *mockDB
		storage *mockStorage
		idGen   *mockIDGenerator
		timeSrc *mockTimeSource
		service *Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newMockDB()
		storage = newMockStorage()
		idGen = &mockIDGenerator{ids: []string{"test-id-123"}}
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, storage, idGen, timeSrc)
	})

	Describe("FindBySerial", func() {
		When("a record holds the serial", func() {
			BeforeEach(func() {
				db.records["existing"] = &Record{ID: "existing", SerialNumber: "SM12345"}
			})

			It("returns the record", func() {
				record, err := service.FindBySerial(ctx, "SM12345")
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ID).To(Equal("existing"))
			})
		})

		When("no record holds the serial", func() {
			It("returns nil without an error", func() {
				record, err := service.FindBySerial(ctx, "SM12345")
				Expect(err).NotTo(HaveOccurred())
				Expect(record).To(BeNil())
			})
		})

		When("the database fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("database error")
				db.findErr = setupErr
			})

			It("returns the error", func() {
				_, err := service.FindBySerial(ctx, "SM12345")
				Expect(err).To(MatchError(setupErr))
			})
		})
	})

	Describe("Insert", func() {
		var (
			record *Record
			id     string
			err    error
		)

		BeforeEach(func() {
			record = &Record{SerialNumber: "AB12345", Model: "Z1"}
		})

		JustBeforeEach(func() {
			id, err = service.Insert(ctx, record)
		})

		When("insert succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the generated ID", func() {
				Expect(id).To(Equal("test-id-123"))
			})

			It("should set CreatedAt and UpdatedAt", func() {
				saved := db.records["test-id-123"]
				Expect(saved.CreatedAt).To(Equal(timeSrc.now))
				Expect(saved.UpdatedAt).To(Equal(timeSrc.now))
			})
		})

		When("the serial already exists", func() {
			BeforeEach(func() {
				db.records["existing"] = &Record{ID: "existing", SerialNumber: "AB12345"}
			})

			It("returns ErrDuplicateSerial", func() {
				Expect(err).To(MatchError(ErrDuplicateSerial))
			})
		})

		When("the context is cancelled", func() {
			BeforeEach(func() {
				cancelled, cancel := context.WithCancel(context.Background())
				cancel()
				ctx = cancelled
			})

			It("returns the context error", func() {
				Expect(err).To(MatchError(context.Canceled))
			})

			It("does not write the record", func() {
				Expect(db.records).To(BeEmpty())
			})
		})
	})

	Describe("PersistImage", func() {
		var (
			path string
			err  error
		)

		JustBeforeEach(func() {
			path, err = service.PersistImage(ctx, jpegData, "image/jpeg")
		})

		When("storage succeeds", func() {
			It("names the file after a new ID", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(path).To(Equal("sirim_test-id-123.jpg"))
				Expect(storage.files).To(HaveKeyWithValue("sirim_test-id-123.jpg", jpegData))
			})
		})

		When("storage fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("storage error")
				storage.saveErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})
		})

		When("the context is cancelled", func() {
			BeforeEach(func() {
				cancelled, cancel := context.WithCancel(context.Background())
				cancel()
				ctx = cancelled
			})

			It("does not store the image", func() {
				Expect(err).To(MatchError(context.Canceled))
				Expect(storage.files).To(BeEmpty())
			})
		})
	})

	Describe("DeleteImage", func() {
		It("removes the image", func() {
			storage.files["sirim_1.jpg"] = jpegData
			Expect(service.DeleteImage(ctx, "sirim_1.jpg")).To(Succeed())
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("CreateRecord", func() {
		var (
			input  Input
			record *Record
			err    error
		)

		BeforeEach(func() {
			input = Input{
				SerialNumber: " ab12345 ",
				Brand:        "Acme   Electric",
				Model:        "Z1",
				IsVerified:   true,
			}
		})

		JustBeforeEach(func() {
			record, err = service.CreateRecord(ctx, input)
		})

		When("the input is valid", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("normalizes the values", func() {
				Expect(record.SerialNumber).To(Equal("AB12345"))
				Expect(record.Brand).To(Equal("Acme Electric"))
			})

			It("saves the record", func() {
				Expect(db.records).To(HaveKey("test-id-123"))
				Expect(db.records["test-id-123"].IsVerified).To(BeTrue())
			})
		})

		When("the serial is malformed", func() {
			BeforeEach(func() {
				input.SerialNumber = "@@"
			})

			It("returns ErrInvalidRecord", func() {
				Expect(err).To(MatchError(ErrInvalidRecord))
			})
		})

		When("a field is too long", func() {
			BeforeEach(func() {
				input.Size = "0123456789012345678901234567890"
			})

			It("returns ErrInvalidRecord", func() {
				Expect(err).To(MatchError(ErrInvalidRecord))
			})
		})

		When("the serial already exists", func() {
			BeforeEach(func() {
				db.records["existing"] = &Record{ID: "existing", SerialNumber: "AB12345"}
			})

			It("returns ErrDuplicateSerial", func() {
				Expect(err).To(MatchError(ErrDuplicateSerial))
			})
		})
	})

	Describe("UpdateRecord", func() {
		var (
			id     string
			input  Input
			record *Record
			err    error
		)

		BeforeEach(func() {
			id = "rec-1"
			db.records["rec-1"] = &Record{
				ID:           "rec-1",
				SerialNumber: "AB12345",
				Model:        "Z1",
				ImagePath:    "sirim_1.jpg",
				CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			db.records["rec-2"] = &Record{ID: "rec-2", SerialNumber: "CD67890"}
			input = Input{SerialNumber: "AB12345", Model: "Z2", IsVerified: true}
		})

		JustBeforeEach(func() {
			record, err = service.UpdateRecord(ctx, id, input)
		})

		When("the input is valid", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("applies the edit", func() {
				Expect(db.records["rec-1"].Model).To(Equal("Z2"))
				Expect(db.records["rec-1"].IsVerified).To(BeTrue())
			})

			It("keeps the image and creation time", func() {
				Expect(record.ImagePath).To(Equal("sirim_1.jpg"))
				Expect(record.CreatedAt).To(Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
				Expect(record.UpdatedAt).To(Equal(timeSrc.now))
			})
		})

		When("the serial belongs to another record", func() {
			BeforeEach(func() {
				input.SerialNumber = "CD67890"
			})

			It("returns ErrDuplicateSerial", func() {
				Expect(err).To(MatchError(ErrDuplicateSerial))
			})
		})

		When("the record does not exist", func() {
			BeforeEach(func() {
				id = "missing"
			})

			It("returns ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		When("the serial is missing", func() {
			BeforeEach(func() {
				input.SerialNumber = ""
			})

			It("returns ErrInvalidRecord", func() {
				Expect(err).To(MatchError(ErrInvalidRecord))
			})
		})
	})

	Describe("listing", func() {
		BeforeEach(func() {
			for i, serial := range []string{"AA11111", "BB22222", "CC33333", "DD44444", "EE55555", "FF66666"} {
				db.records[serial] = &Record{
					ID:           serial,
					SerialNumber: serial,
					Brand:        "Acme",
					CreatedAt:    time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
				}
			}
			db.records["BB22222"].Brand = "Philips"
		})

		It("lists all records newest first", func() {
			records, err := service.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(6))
			Expect(records[0].ID).To(Equal("FF66666"))
		})

		It("returns the five newest as recent", func() {
			records, err := service.RecentRecords(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(5))
			Expect(records[4].ID).To(Equal("BB22222"))
		})

		It("searches across fields", func() {
			records, err := service.SearchRecords("philips")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal("BB22222"))
		})

		It("returns list errors", func() {
			db.listErr = errors.New("database error")
			_, err := service.SearchRecords("acme")
			Expect(err).To(MatchError(ContainSubstring("database error")))
		})
	})

	Describe("DeleteRecord", func() {
		var (
			id  string
			err error
		)

		BeforeEach(func() {
			id = "rec-1"
			db.records["rec-1"] = &Record{ID: "rec-1", SerialNumber: "AB12345", ImagePath: "sirim_1.jpg"}
			storage.files["sirim_1.jpg"] = jpegData
		})

		JustBeforeEach(func() {
			err = service.DeleteRecord(ctx, id)
		})

		When("delete succeeds", func() {
			It("removes the record and its image", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(db.records).NotTo(HaveKey("rec-1"))
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the image cannot be removed", func() {
			BeforeEach(func() {
				storage.deleteErr = errors.New("storage error")
			})

			It("still removes the record", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(db.records).NotTo(HaveKey("rec-1"))
			})
		})

		When("the record does not exist", func() {
			BeforeEach(func() {
				id = "missing"
			})

			It("returns ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("GetRecordImage", func() {
		BeforeEach(func() {
			db.records["rec-1"] = &Record{ID: "rec-1", ImagePath: "sirim_1.jpg"}
			db.records["rec-2"] = &Record{ID: "rec-2"}
			storage.files["sirim_1.jpg"] = jpegData
		})

		It("returns the stored image", func() {
			data, err := service.GetRecordImage(ctx, "rec-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(jpegData))
		})

		It("returns ErrNotFound when the record has no image", func() {
			_, err := service.GetRecordImage(ctx, "rec-2")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
