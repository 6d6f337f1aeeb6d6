package record

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name      string
			savedPath string
			err       error
		)

		BeforeEach(func() {
			name = "sirim_1.jpg"
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(ctx, name, jpegData)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file name", func() {
				Expect(savedPath).To(Equal("sirim_1.jpg"))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
			})

			It("should leave no temp files behind", func() {
				entries, _ := filepath.Glob(filepath.Join(tmpDir, ".upload-*"))
				Expect(entries).To(BeEmpty())
			})
		})

		When("the name contains directories", func() {
			BeforeEach(func() {
				name = "../../etc/sirim_1.jpg"
			})

			It("stays inside the storage directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal("sirim_1.jpg"))
				Expect(filepath.Join(tmpDir, "sirim_1.jpg")).To(BeAnExistingFile())
			})
		})

		When("the context is cancelled", func() {
			BeforeEach(func() {
				cancelled, cancel := context.WithCancel(context.Background())
				cancel()
				ctx = cancelled
			})

			It("writes nothing", func() {
				Expect(err).To(MatchError(context.Canceled))
				Expect(filepath.Join(tmpDir, name)).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("file exists", func() {
			It("should return the file data", func() {
				path, err := storage.Save(ctx, "sirim_1.jpg", jpegData)
				Expect(err).NotTo(HaveOccurred())

				data, err := storage.Get(ctx, path)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal(jpegData))
			})
		})

		When("file does not exist", func() {
			It("should return an error", func() {
				_, err := storage.Get(ctx, "missing.jpg")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		When("file exists", func() {
			It("should remove the file", func() {
				path, err := storage.Save(ctx, "sirim_1.jpg", jpegData)
				Expect(err).NotTo(HaveOccurred())

				Expect(storage.Delete(ctx, path)).To(Succeed())
				Expect(filepath.Join(tmpDir, path)).NotTo(BeAnExistingFile())
			})
		})

		When("file does not exist", func() {
			It("should return an error", func() {
				Expect(storage.Delete(ctx, "missing.jpg")).To(HaveOccurred())
			})
		})
	})
})
