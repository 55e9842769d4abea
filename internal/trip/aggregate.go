package trip

import (
	"math"
	"sort"
	"time"
)

// CategoryTotal is the spend of one category
type CategoryTotal struct {
	Category Category `json:"category"`
	Amount   int      `json:"amount"`
	Count    int      `json:"count"`
	Percent  int      `json:"percent"` // Share of total spend, rounded
}

// DateGroup holds the receipts of one calendar date, newest first
type DateGroup struct {
	Date     string    `json:"date"`
	Total    int       `json:"total"`
	Receipts []Receipt `json:"receipts"`
}

// Summary is the budget view of a trip
type Summary struct {
	TripID          string          `json:"trip_id"`
	Budget          int             `json:"budget"`
	TotalSpend      int             `json:"total_spend"`
	RemainingBudget int             `json:"remaining_budget"`
	BudgetPercent   int             `json:"budget_percent"`
	OverBudget      bool            `json:"over_budget"`
	ReceiptCount    int             `json:"receipt_count"`
	Categories      []CategoryTotal `json:"categories"`
}

// TotalSpend sums every receipt amount
func TotalSpend(receipts []Receipt) int {
	total := 0
	for _, r := range receipts {
		total += r.Amount
	}
	return total
}

// RemainingBudget is budget minus spend. It goes negative when over budget.
func RemainingBudget(budget int, receipts []Receipt) int {
	return budget - TotalSpend(receipts)
}

// IsOverBudget reports whether spend exceeds the budget
func IsOverBudget(budget int, receipts []Receipt) bool {
	return RemainingBudget(budget, receipts) < 0
}

// BudgetPercent is round(total / budget * 100) clamped to [0, 100].
// A zero budget reads 100 once anything was spent and 0 otherwise.
func BudgetPercent(budget int, receipts []Receipt) int {
	total := TotalSpend(receipts)
	if budget <= 0 {
		if total > 0 {
			return 100
		}
		return 0
	}
	return clampPercent(math.Round(float64(total) / float64(budget) * 100))
}

func clampPercent(p float64) int {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// CategoryTotals groups spend by category, largest first. Categories without
// receipts are omitted; equal totals keep the fixed category order.
func CategoryTotals(receipts []Receipt) []CategoryTotal {
	byCategory := make(map[Category]*CategoryTotal)
	for _, r := range receipts {
		ct, ok := byCategory[r.Category]
		if !ok {
			ct = &CategoryTotal{Category: r.Category}
			byCategory[r.Category] = ct
		}
		ct.Amount += r.Amount
		ct.Count++
	}

	total := TotalSpend(receipts)
	totals := make([]CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		if total > 0 {
			ct.Percent = clampPercent(math.Round(float64(ct.Amount) / float64(total) * 100))
		}
		totals = append(totals, *ct)
	}

	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Amount != totals[j].Amount {
			return totals[i].Amount > totals[j].Amount
		}
		if ri, rj := totals[i].Category.rank(), totals[j].Category.rank(); ri != rj {
			return ri < rj
		}
		return totals[i].Category < totals[j].Category
	})
	return totals
}

// GroupByDate maps each date string to its receipts, in stored order
func GroupByDate(receipts []Receipt) map[string][]Receipt {
	groups := make(map[string][]Receipt)
	for _, r := range receipts {
		groups[r.Date] = append(groups[r.Date], r)
	}
	return groups
}

// DateGroups partitions receipts by date. Groups are ordered newest date first
// and receipts inside a group follow the timeline order.
func DateGroups(receipts []Receipt) []DateGroup {
	byDate := GroupByDate(receipts)

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool {
		return dateAfter(dates[i], dates[j])
	})

	groups := make([]DateGroup, 0, len(dates))
	for _, d := range dates {
		rs := sortByTimestamp(byDate[d])
		groups = append(groups, DateGroup{Date: d, Total: TotalSpend(rs), Receipts: rs})
	}
	return groups
}

// dateAfter orders calendar dates descending. Unparsable dates sort last, by string.
func dateAfter(a, b string) bool {
	ta, errA := time.Parse(dateLayout, a)
	tb, errB := time.Parse(dateLayout, b)
	switch {
	case errA == nil && errB == nil:
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a > b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a > b
}

// Timeline returns receipts newest first. Receipts sharing a timestamp keep their
// stored order. A zero filter (or "all") keeps every category.
func Timeline(receipts []Receipt, filter Category) []Receipt {
	sorted := sortByTimestamp(receipts)
	if filter == "" || filter == "all" {
		return sorted
	}
	filtered := make([]Receipt, 0, len(sorted))
	for _, r := range sorted {
		if r.Category == filter {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func sortByTimestamp(receipts []Receipt) []Receipt {
	sorted := make([]Receipt, len(receipts))
	copy(sorted, receipts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})
	return sorted
}

// Summarize computes the budget view of a trip
func Summarize(t Trip) Summary {
	return Summary{
		TripID:          t.ID,
		Budget:          t.Budget,
		TotalSpend:      TotalSpend(t.Receipts),
		RemainingBudget: RemainingBudget(t.Budget, t.Receipts),
		BudgetPercent:   BudgetPercent(t.Budget, t.Receipts),
		OverBudget:      IsOverBudget(t.Budget, t.Receipts),
		ReceiptCount:    len(t.Receipts),
		Categories:      CategoryTotals(t.Receipts),
	}
}
