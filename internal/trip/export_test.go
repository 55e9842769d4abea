package trip

import (
	"encoding/csv"
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Export", func() {
	var t Trip

	BeforeEach(func() {
		t = testTrip("trip-a", "Tokyo Food Trip",
			Receipt{ID: "r1", MerchantName: `Bar "Nonbei", Golden Gai`, Category: CategoryFood, Amount: 4500, Currency: "KRW", Date: "2024-05-22", Time: "21:30", Note: "two drinks"},
			Receipt{ID: "r2", MerchantName: "JR East", Category: CategoryTransport, Amount: 1900, Currency: "KRW", Date: "2024-05-21", Time: "09:00"},
		)
	})

	Describe("ExportCSV", func() {
		var (
			export *Export
			lines  []string
		)

		JustBeforeEach(func() {
			export = ExportCSV(t)
			lines = strings.Split(strings.TrimSuffix(string(export.Data), "\n"), "\n")
		})

		It("should start with a byte order mark and the header", func() {
			Expect(strings.HasPrefix(string(export.Data), utf8BOM)).To(BeTrue())
			Expect(strings.TrimPrefix(lines[0], utf8BOM)).To(Equal("date,time,category,merchant,amount,currency,note"))
		})

		It("should write one row per receipt in stored order", func() {
			Expect(lines).To(HaveLen(3))
			Expect(lines[1]).To(Equal(`2024-05-22,21:30,food,"Bar ""Nonbei"", Golden Gai",4500,KRW,"two drinks"`))
			Expect(lines[2]).To(Equal(`2024-05-21,09:00,transport,"JR East",1900,KRW,""`))
		})

		It("should name the file after the trip", func() {
			Expect(export.Filename).To(Equal("Tokyo Food Trip_export.csv"))
			Expect(export.ContentType).To(Equal("text/csv; charset=utf-8"))
		})

		When("a stored receipt holds separators outside merchant and note", func() {
			BeforeEach(func() {
				t.Receipts[1].Date = "2024-05-21,late\nentry"
				t.Receipts[1].Currency = "K,RW"
			})

			It("should quote those columns and keep one record per receipt", func() {
				records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(export.Data), utf8BOM))).ReadAll()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(3))
				Expect(records[2][0]).To(Equal("2024-05-21,late\nentry"))
				Expect(records[2][5]).To(Equal("K,RW"))
			})
		})

		When("the trip has no receipts", func() {
			BeforeEach(func() {
				t.Receipts = nil
			})

			It("should only contain the header", func() {
				Expect(lines).To(HaveLen(1))
			})
		})

		When("the title contains path characters", func() {
			BeforeEach(func() {
				t.Title = "../Seoul/Busan"
			})

			It("should replace them", func() {
				Expect(export.Filename).NotTo(ContainSubstring("/"))
				Expect(export.Filename).To(HaveSuffix("_export.csv"))
			})
		})

		When("the title is blank", func() {
			BeforeEach(func() {
				t.Title = "  "
			})

			It("should fall back to a generic name", func() {
				Expect(export.Filename).To(Equal("trip_export.csv"))
			})
		})
	})

	Describe("ExportJSON", func() {
		It("should write an indented backup that restores the trip", func() {
			export, err := ExportJSON(t)
			Expect(err).NotTo(HaveOccurred())
			Expect(export.Filename).To(Equal("Tokyo Food Trip_backup.json"))
			Expect(export.ContentType).To(Equal("application/json"))
			Expect(string(export.Data)).To(ContainSubstring("\n  \"id\": \"trip-a\""))

			var restored Trip
			Expect(json.Unmarshal(export.Data, &restored)).To(Succeed())
			Expect(restored.ID).To(Equal("trip-a"))
			Expect(receiptIDs(restored.Receipts)).To(Equal([]string{"r1", "r2"}))
		})

		It("should write an empty receipt list rather than null", func() {
			t.Receipts = nil
			export, err := ExportJSON(t)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(export.Data)).To(ContainSubstring(`"receipts": []`))
		})
	})
})
