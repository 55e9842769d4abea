package analysis

import (
	"errors"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gemini", func() {
	When("no API key is configured", func() {
		It("should return ErrMissingCredential", func() {
			_, err := NewGemini("", "")
			Expect(errors.Is(err, ErrMissingCredential)).To(BeTrue())
		})
	})

	When("an API key is configured", func() {
		var gemini *Gemini

		BeforeEach(func() {
			var err error
			gemini, err = NewGemini("test-key", "")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(gemini.Close)
		})

		It("should default the model name", func() {
			Expect(gemini.modelName).To(Equal("gemini-2.5-flash"))
		})

		It("should attach the system instruction to the model", func() {
			model := gemini.model("read receipts")
			Expect(model.SystemInstruction).NotTo(BeNil())
			Expect(model.SystemInstruction.Parts).To(Equal([]genai.Part{genai.Text("read receipts")}))
		})

		It("should leave the system instruction unset when empty", func() {
			Expect(gemini.model("").SystemInstruction).To(BeNil())
		})
	})
})
