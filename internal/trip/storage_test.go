package trip

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FlatStorage", func() {
	var (
		tmpDir  string
		storage *FlatStorage
	)

	BeforeEach(func() {
		tmpDir = filepath.Join(GinkgoT().TempDir(), "legacy")
		var err error
		storage, err = NewFlatStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the directory", func() {
		Expect(tmpDir).To(BeADirectory())
	})

	Describe("Get", func() {
		When("the key exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(tmpDir, LegacyThemeKey), []byte("light"), 0644)).To(Succeed())
			})

			It("should return the stored value", func() {
				data, err := storage.Get(LegacyThemeKey)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("light")))
			})
		})

		When("the key doesn't exist", func() {
			It("should return an error wrapping fs.ErrNotExist", func() {
				_, err := storage.Get(LegacyTripsKey)
				Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
			})
		})

		When("the key is empty", func() {
			It("should return an error", func() {
				_, err := storage.Get("")
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, fs.ErrNotExist)).To(BeFalse())
			})
		})

		When("the key would escape the directory", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(tmpDir, "..", "outside"), []byte("secret"), 0644)).To(Succeed())
			})

			It("should refuse to read it", func() {
				_, err := storage.Get("../outside")
				Expect(err).To(MatchError(ContainSubstring("invalid storage key")))
			})
		})
	})

	It("should serve as a legacy source", func() {
		var source LegacySource = storage
		_, err := source.Get(LegacyTripsKey)
		Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
	})
})
