package trip

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Synchronizer", func() {
	var (
		durable      *mockDurable
		legacy       mockLegacy
		synchronizer *Synchronizer
		now          time.Time
		ctx          context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		durable = newMockDurable()
		legacy = mockLegacy{}
		now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		synchronizer = NewSynchronizerWithDeps(durable, durable, legacy, &sequenceIDGenerator{prefix: "gen"}, &fixedTimeSource{now: now})
	})

	AfterEach(func() {
		Expect(synchronizer.Close()).To(Succeed())
	})

	Describe("Bootstrap", func() {
		var (
			store *Store
			err   error
		)

		JustBeforeEach(func() {
			store, err = synchronizer.Bootstrap(ctx)
			Expect(synchronizer.Flush(ctx)).To(Succeed())
		})

		When("nothing was stored before", func() {
			It("should seed and persist a default trip", func() {
				Expect(err).NotTo(HaveOccurred())
				trips := store.Trips()
				Expect(trips).To(HaveLen(1))
				Expect(trips[0].Title).To(Equal("Tokyo Food Trip"))
				Expect(trips[0].Budget).To(Equal(5000000))
				Expect(trips[0].Receipts).To(BeEmpty())

				_, ok := durable.stored(trips[0].ID)
				Expect(ok).To(BeTrue())
				Expect(durable.pref(ActiveTripKey)).To(Equal(trips[0].ID))
			})
		})

		When("trips were stored before", func() {
			BeforeEach(func() {
				durable.trips["trip-a"] = testTrip("trip-a", "Tokyo", Receipt{ID: "r1", Amount: 1200})
				durable.trips["trip-b"] = testTrip("trip-b", "Osaka")
				durable.prefs[ActiveTripKey] = "trip-b"
			})

			It("should restore them with the active trip", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(store.Trips()).To(HaveLen(2))
				Expect(store.ActiveID()).To(Equal("trip-b"))
				a, err := store.Trip("trip-a")
				Expect(err).NotTo(HaveOccurred())
				Expect(receiptIDs(a.Receipts)).To(Equal([]string{"r1"}))
			})

			It("should not write anything back", func() {
				Expect(durable.putLog).To(BeEmpty())
			})
		})

		When("the stored active trip no longer exists", func() {
			BeforeEach(func() {
				durable.trips["trip-a"] = testTrip("trip-a", "Tokyo")
				durable.prefs[ActiveTripKey] = "gone"
			})

			It("should repair the preference", func() {
				Expect(store.ActiveID()).To(Equal("trip-a"))
				Expect(durable.pref(ActiveTripKey)).To(Equal("trip-a"))
			})
		})

		When("loading fails", func() {
			BeforeEach(func() {
				durable.listErr = errors.New("disk on fire")
			})

			It("should start with an in-memory default trip", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(store.Trips()).To(HaveLen(1))
				Expect(durable.putLog).To(BeEmpty())
			})
		})

		When("legacy data exists and durable storage is empty", func() {
			BeforeEach(func() {
				legacy[LegacyTripsKey] = []byte(`[
					{"id":"old-1","title":"Busan","startDate":"2023-10-01","endDate":"2023-10-03","budget":300000,
					 "receipts":[{"id":"","merchant_name":" Jagalchi ","category":"식비","amount":25000,"date":"2023-10-01","time":""}]},
					{"id":"","title":"","budget":-5}
				]`)
				legacy[LegacyActiveTripKey] = []byte(`"old-1"`)
			})

			It("should migrate every legacy trip", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(durable.trips).To(HaveLen(2))

				busan, ok := durable.stored("old-1")
				Expect(ok).To(BeTrue())
				Expect(busan.Receipts).To(HaveLen(1))
				Expect(busan.Receipts[0].ID).NotTo(BeEmpty())
				Expect(busan.Receipts[0].MerchantName).To(Equal("Jagalchi"))
				Expect(busan.Receipts[0].Category).To(Equal(CategoryFood))
				Expect(busan.Receipts[0].Time).To(Equal("12:00"))
			})

			It("should fill missing fields of legacy trips", func() {
				for _, t := range store.Trips() {
					Expect(t.ID).NotTo(BeEmpty())
					Expect(t.Title).NotTo(BeEmpty())
					Expect(t.Budget).To(BeNumerically(">=", 0))
				}
			})

			It("should restore the legacy active trip", func() {
				Expect(store.ActiveID()).To(Equal("old-1"))
			})
		})

		When("legacy data exists but durable storage already has trips", func() {
			BeforeEach(func() {
				durable.trips["trip-a"] = testTrip("trip-a", "Tokyo")
				legacy[LegacyTripsKey] = []byte(`[{"id":"old-1","title":"Busan"}]`)
			})

			It("should not migrate again", func() {
				Expect(durable.trips).To(HaveLen(1))
				Expect(tripIDs(store.Trips())).To(Equal([]string{"trip-a"}))
			})
		})

		When("the legacy blob is corrupt", func() {
			BeforeEach(func() {
				legacy[LegacyTripsKey] = []byte(`{not json`)
			})

			It("should still start", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(store.Trips()).To(HaveLen(1))
			})
		})
	})

	Describe("writes", func() {
		It("should apply writes in the order they were made", func() {
			synchronizer.SaveTrip(testTrip("trip-a", "Tokyo"))
			synchronizer.SaveTrip(testTrip("trip-b", "Osaka"))
			renamed := testTrip("trip-a", "Tokyo again")
			synchronizer.SaveTrip(renamed)
			synchronizer.DeleteTrip("trip-b")
			synchronizer.SaveActiveTrip("trip-a")
			Expect(synchronizer.Flush(ctx)).To(Succeed())

			Expect(durable.putLog).To(Equal([]string{"trip-a", "trip-b", "trip-a"}))
			stored, ok := durable.stored("trip-a")
			Expect(ok).To(BeTrue())
			Expect(stored.Title).To(Equal("Tokyo again"))
			_, ok = durable.stored("trip-b")
			Expect(ok).To(BeFalse())
			Expect(durable.pref(ActiveTripKey)).To(Equal("trip-a"))
		})

		It("should report the latest write", func() {
			synchronizer.SaveTheme(ThemeLight)
			Expect(synchronizer.Flush(ctx)).To(Succeed())

			status := synchronizer.LastWriteStatus()
			Expect(status.Op).To(Equal("set_preference"))
			Expect(status.Key).To(Equal(ThemeKey))
			Expect(status.OK).To(BeTrue())
			Expect(status.At).To(Equal(now))
			Expect(status.Failures).To(Equal(0))
		})

		When("the durable store fails", func() {
			BeforeEach(func() {
				durable.putErr = errors.New("read-only file system")
			})

			It("should record the failure and keep going", func() {
				synchronizer.SaveTrip(testTrip("trip-a", "Tokyo"))
				synchronizer.SaveTrip(testTrip("trip-b", "Osaka"))
				Expect(synchronizer.Flush(ctx)).To(Succeed())

				status := synchronizer.LastWriteStatus()
				Expect(status.OK).To(BeFalse())
				Expect(status.Key).To(Equal("trip-b"))
				Expect(status.Error).To(ContainSubstring("read-only"))
				Expect(status.Failures).To(Equal(2))
			})
		})

		It("should drain queued writes on close and drop later ones", func() {
			synchronizer.SaveTrip(testTrip("trip-a", "Tokyo"))
			Expect(synchronizer.Close()).To(Succeed())

			_, ok := durable.stored("trip-a")
			Expect(ok).To(BeTrue())

			synchronizer.SaveTrip(testTrip("trip-b", "Osaka"))
			Expect(synchronizer.Flush(ctx)).To(Succeed())
			_, ok = durable.stored("trip-b")
			Expect(ok).To(BeFalse())
		})

		It("should stop waiting when the context ends", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			err := synchronizer.Flush(cancelled)
			if err != nil {
				Expect(err).To(MatchError(context.Canceled))
			}
		})
	})

	Describe("Theme", func() {
		It("should default to dark", func() {
			Expect(synchronizer.Theme(ctx)).To(Equal(ThemeDark))
		})

		It("should read the stored theme", func() {
			durable.prefs[ThemeKey] = ThemeLight
			Expect(synchronizer.Theme(ctx)).To(Equal(ThemeLight))
		})

		It("should fall back to the legacy theme", func() {
			legacy[LegacyThemeKey] = []byte("light")
			Expect(synchronizer.Theme(ctx)).To(Equal(ThemeLight))
		})

		It("should return a saved theme before the write is applied", func() {
			durable.prefs[ThemeKey] = ThemeDark
			durable.mu.Lock()
			synchronizer.SaveTheme(ThemeLight)
			Expect(synchronizer.Theme(ctx)).To(Equal(ThemeLight))
			durable.mu.Unlock()

			Expect(synchronizer.Flush(ctx)).To(Succeed())
			Expect(durable.pref(ThemeKey)).To(Equal(ThemeLight))
		})

		It("should ignore unknown values", func() {
			durable.prefs[ThemeKey] = "sepia"
			Expect(synchronizer.Theme(ctx)).To(Equal(ThemeDark))
		})
	})
})
