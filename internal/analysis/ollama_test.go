package analysis

import (
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		client *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	respondWith := func(content string) http.HandlerFunc {
		return ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: content},
			Done:    true,
		})
	}

	Describe("Analyze", func() {
		var (
			in      Input
			payload *Payload
			err     error
		)

		BeforeEach(func() {
			in = Input{Text: "Lawson Shibuya 2024-05-21 total 1,234 yen"}
		})

		JustBeforeEach(func() {
			payload, err = client.Analyze(context.Background(), in)
		})

		When("the model answers with a payload", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					func(w http.ResponseWriter, r *http.Request) {
						var req ollamaChatRequest
						Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
						Expect(req.Model).To(Equal("llava"))
						Expect(req.Format).To(Equal("json"))
						Expect(req.Messages).To(HaveLen(2))
						Expect(req.Messages[0].Role).To(Equal("system"))
						Expect(req.Messages[1].Content).To(ContainSubstring("Lawson Shibuya"))
					},
					respondWith(`{"merchant_name": "Lawson", "category": "food", "amount": "1,234", "currency": "JPY", "date": "2024-05-21", "reasoning": "convenience store"}`),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the merchant name", func() {
				Expect(payload.MerchantName).To(Equal("Lawson"))
			})
		})

		When("the server fails", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("status 500")))
			})
		})

		When("the input is empty", func() {
			BeforeEach(func() {
				in = Input{}
			})

			It("returns the error without calling the server", func() {
				Expect(err).To(MatchError(ErrEmptyInput))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("Geocode", func() {
		var (
			coords *Coordinates
			err    error
		)

		JustBeforeEach(func() {
			coords, err = client.Geocode(context.Background(), "Tokyo Tower")
		})

		When("the place is found", func() {
			BeforeEach(func() {
				server.AppendHandlers(respondWith(`{"latitude": 35.6586, "longitude": 139.7454}`))
			})

			It("should return the coordinates", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(coords.Latitude).To(Equal(35.6586))
			})
		})

		When("the place is not found", func() {
			BeforeEach(func() {
				server.AppendHandlers(respondWith(`null`))
			})

			It("should report a miss", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(coords).To(BeNil())
			})
		})
	})
})
