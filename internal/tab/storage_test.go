package tab

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemoryStorage", func() {
	var storage *MemoryStorage

	BeforeEach(func() {
		storage = NewMemoryStorage()
	})

	Describe("Save", func() {
		It("returns a key that Get accepts", func() {
			key, err := storage.Save("bill.jpg", []byte("photo"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("photo")))
		})

		It("keeps its own copy of the data", func() {
			data := []byte("photo")
			key, err := storage.Save("bill.jpg", data)
			Expect(err).NotTo(HaveOccurred())
			data[0] = 'P'

			stored, err := storage.Get(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(stored)).To(Equal("photo"))
		})

		It("requires a filename", func() {
			_, err := storage.Save("", []byte("photo"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Get", func() {
		It("returns an error for unknown keys", func() {
			_, err := storage.Get("missing")
			Expect(err).To(MatchError(ContainSubstring("file not found")))
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			key, err := storage.Save("bill.jpg", []byte("photo"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete(key)).To(Succeed())

			_, err = storage.Get(key)
			Expect(err).To(HaveOccurred())
		})

		It("returns an error for unknown keys", func() {
			Expect(storage.Delete("missing")).NotTo(Succeed())
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleaning phone filenames",
		func(in, expected string) {
			Expect(sanitizeFilename(in)).To(Equal(expected))
		},
		Entry("plain name", "IMG_0001.JPG", "IMG_0001.jpg"),
		Entry("special characters", "dinner (1) @ joe's!.png", "dinner 1 joes.png"),
		Entry("repeated spaces", "a   b.pdf", "a b.pdf"),
		Entry("nothing left", "@@@.heic", "receipt.heic"),
		Entry("path components", "../../etc/passwd", "passwd"),
		Entry("long name", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.jpg", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.jpg"),
	)
})
