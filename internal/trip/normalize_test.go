package trip

import (
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/trip-tracker/internal/analysis"
)

var _ = Describe("Normalizer", func() {
	var (
		normalizer *Normalizer
		tokyo      *time.Location
		now        time.Time
	)

	BeforeEach(func() {
		tokyo = time.FixedZone("JST", 9*60*60)
		now = time.Date(2024, 5, 25, 14, 5, 0, 0, tokyo)
		normalizer = NewNormalizerWithDeps("krw", tokyo, &sequenceIDGenerator{prefix: "r"}, &fixedTimeSource{now: now})
	})

	Describe("FromAnalysis", func() {
		var (
			payload *analysis.Payload
			receipt Receipt
		)

		BeforeEach(func() {
			payload = &analysis.Payload{
				MerchantName: " FamilyMart ",
				Category:     "Shopping",
				Amount:       amountJSON(`1980.5`),
				Currency:     "jpy",
				Date:         "2024-05-21",
				Time:         "08:10",
				Address:      strPtr(" Shinjuku 3-1 "),
				Latitude:     floatPtr(35.69),
				Longitude:    floatPtr(139.70),
				Reasoning:    "convenience store snack",
			}
		})

		JustBeforeEach(func() {
			receipt = normalizer.FromAnalysis(payload)
		})

		It("should assign a fresh id", func() {
			Expect(receipt.ID).To(Equal("r-1"))
		})

		It("should round the amount half away from zero", func() {
			Expect(receipt.Amount).To(Equal(1981))
		})

		It("should clean the text fields", func() {
			Expect(receipt.MerchantName).To(Equal("FamilyMart"))
			Expect(receipt.Category).To(Equal(CategoryShopping))
			Expect(receipt.Currency).To(Equal("JPY"))
			Expect(*receipt.Address).To(Equal("Shinjuku 3-1"))
			Expect(receipt.Note).To(Equal("convenience store snack"))
		})

		It("should derive the timestamp in the configured location", func() {
			Expect(receipt.Timestamp).To(Equal(time.Date(2024, 5, 21, 8, 10, 0, 0, tokyo).UnixMilli()))
		})

		It("should keep valid coordinates", func() {
			Expect(receipt.HasLocation()).To(BeTrue())
		})

		When("the amount is a string with thousands separators", func() {
			BeforeEach(func() {
				payload.Amount = amountJSON(`"1,234"`)
			})

			It("should parse it", func() {
				Expect(receipt.Amount).To(Equal(1234))
			})
		})

		When("the amount cannot be read", func() {
			BeforeEach(func() {
				payload.Amount = amountJSON(`"free"`)
			})

			It("should fall back to zero", func() {
				Expect(receipt.Amount).To(Equal(0))
			})
		})

		When("the time is missing", func() {
			BeforeEach(func() {
				payload.Time = ""
			})

			It("should default to noon", func() {
				Expect(receipt.Time).To(Equal("12:00"))
				Expect(receipt.Timestamp).To(Equal(time.Date(2024, 5, 21, 12, 0, 0, 0, tokyo).UnixMilli()))
			})
		})

		When("neither date nor time can be parsed", func() {
			BeforeEach(func() {
				payload.Date = "sometime last week"
				payload.Time = "evening"
			})

			It("should use the ingestion time instead of failing", func() {
				Expect(receipt.Timestamp).To(Equal(now.UnixMilli()))
				Expect(receipt.Date).To(Equal("2024-05-25"))
				Expect(receipt.Time).To(Equal("14:05"))
			})
		})

		When("only the time is unreadable", func() {
			BeforeEach(func() {
				payload.Time = "25:99"
			})

			It("should keep the date and use the ingestion clock", func() {
				Expect(receipt.Date).To(Equal("2024-05-21"))
				Expect(receipt.Time).To(Equal("14:05"))
				Expect(receipt.Timestamp).To(Equal(now.UnixMilli()))
			})
		})

		When("only one coordinate is present", func() {
			BeforeEach(func() {
				payload.Longitude = nil
			})

			It("should drop both", func() {
				Expect(receipt.Latitude).To(BeNil())
				Expect(receipt.Longitude).To(BeNil())
			})
		})

		When("coordinates are out of range", func() {
			BeforeEach(func() {
				payload.Latitude = floatPtr(135.0)
			})

			It("should drop them", func() {
				Expect(receipt.HasLocation()).To(BeFalse())
			})
		})

		When("the category is not one of the fixed labels", func() {
			BeforeEach(func() {
				payload.Category = "Souvenirs"
			})

			It("should use other", func() {
				Expect(receipt.Category).To(Equal(CategoryOther))
			})
		})

		When("the category uses a legacy label", func() {
			BeforeEach(func() {
				payload.Category = "교통"
			})

			It("should map it", func() {
				Expect(receipt.Category).To(Equal(CategoryTransport))
			})
		})

		When("the currency is missing", func() {
			BeforeEach(func() {
				payload.Currency = ""
			})

			It("should use the reference currency", func() {
				Expect(receipt.Currency).To(Equal("KRW"))
			})
		})
	})

	Describe("Manual", func() {
		It("should build a blank food receipt dated now", func() {
			r := normalizer.Manual()
			Expect(r.ID).To(Equal("r-1"))
			Expect(r.MerchantName).To(BeEmpty())
			Expect(r.Category).To(Equal(CategoryFood))
			Expect(r.Amount).To(Equal(0))
			Expect(r.Currency).To(Equal("KRW"))
			Expect(r.Date).To(Equal("2024-05-25"))
			Expect(r.Time).To(Equal("14:05"))
			Expect(r.Timestamp).To(Equal(now.UnixMilli()))
			Expect(r.Note).To(Equal(ManualEntryNote))
		})
	})

	Describe("Clean", func() {
		It("should re-derive the timestamp from an edited date", func() {
			r, err := normalizer.Clean(Receipt{ID: "x", Date: "2024-05-26", Time: "", Timestamp: 1, Amount: -5})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Time).To(Equal("12:00"))
			Expect(r.Timestamp).To(Equal(time.Date(2024, 5, 26, 12, 0, 0, 0, tokyo).UnixMilli()))
			Expect(r.Amount).To(Equal(0))
			Expect(r.Currency).To(Equal("KRW"))
		})

		It("should drop a blank address", func() {
			r, err := normalizer.Clean(Receipt{ID: "x", Date: "2024-05-26", Time: "10:00", Address: strPtr("  ")})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Address).To(BeNil())
		})

		DescribeTable("rejecting malformed fields",
			func(r Receipt, field string) {
				_, err := normalizer.Clean(r)
				var validationErr *ValidationError
				Expect(errors.As(err, &validationErr)).To(BeTrue())
				Expect(validationErr.Field).To(Equal(field))
			},
			Entry("unreadable date", Receipt{ID: "x", Date: "soon", Time: "10:00"}, "date"),
			Entry("missing date", Receipt{ID: "x", Time: "10:00"}, "date"),
			Entry("date carrying a separator", Receipt{ID: "x", Date: "2024-05-20,evil\nrow", Time: "10:00"}, "date"),
			Entry("unreadable time", Receipt{ID: "x", Date: "2024-05-20", Time: "noon"}, "time"),
			Entry("time carrying a separator", Receipt{ID: "x", Date: "2024-05-20", Time: "10:00,x"}, "time"),
			Entry("currency carrying a separator", Receipt{ID: "x", Date: "2024-05-20", Time: "10:00", Currency: "K,RW"}, "currency"),
			Entry("numeric currency", Receipt{ID: "x", Date: "2024-05-20", Time: "10:00", Currency: "123"}, "currency"),
		)
	})
})

var _ = DescribeTable("coerceAmount",
	func(raw string, expected int) {
		Expect(coerceAmount(json.RawMessage(raw))).To(Equal(expected))
	},
	Entry("integer", `1200`, 1200),
	Entry("fraction rounds up", `10.5`, 11),
	Entry("fraction rounds down", `10.49`, 10),
	Entry("numeric string", `"980"`, 980),
	Entry("thousands separators", `"1,234"`, 1234),
	Entry("trailing currency text", `"3,500 yen"`, 3500),
	Entry("negative", `-20`, 0),
	Entry("text", `"about ten"`, 0),
	Entry("null", `null`, 0),
	Entry("boolean", `true`, 0),
	Entry("empty", ``, 0),
	Entry("too large", `1e20`, 0),
)
