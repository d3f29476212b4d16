package invoice

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLocalStorage", func() {
		It("creates the directory", func() {
			Expect(filepath.Join(tmpDir, "uploads")).To(BeADirectory())
		})
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedName string
			err       error
		)

		BeforeEach(func() {
			filename = "inv-1_发票.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedName, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored name", func() {
				Expect(savedName).To(Equal(filename))
			})

			It("should save the file to disk", func() {
				content, readErr := os.ReadFile(storage.Path(savedName))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(content).To(Equal(data))
			})
		})

		When("the name contains directories", func() {
			BeforeEach(func() {
				filename = "../escape.jpg"
			})

			It("keeps the file inside the storage directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedName).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
				Expect(filepath.Join(tmpDir, "uploads", "escape.jpg")).To(BeAnExistingFile())
			})
		})

		When("the file already exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(tmpDir, "uploads", filename), []byte("original"), 0644)).To(Succeed())
			})

			It("does not overwrite it", func() {
				Expect(err).To(HaveOccurred())
				content, readErr := os.ReadFile(storage.Path(filename))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal("original"))
			})
		})
	})

	Describe("Path", func() {
		It("returns an absolute path inside the storage directory", func() {
			path := storage.Path("a.jpg")
			Expect(filepath.IsAbs(path)).To(BeTrue())
			Expect(filepath.Base(filepath.Dir(path))).To(Equal("uploads"))
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			It("removes it", func() {
				name, err := storage.Save("a.jpg", []byte("data"))
				Expect(err).NotTo(HaveOccurred())
				Expect(storage.Delete(name)).To(Succeed())
				Expect(storage.Path(name)).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("returns an error", func() {
				Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
			})
		})
	})
})
