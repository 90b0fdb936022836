package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch/models"
	"pricewatch/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger.With("insights")}
}

// Generate computes price statistics. A report counts as trusted when its
// score is positive.
func (s *InsightService) Generate(reports []*models.PriceReport) *models.PriceInsights {
	out := &models.PriceInsights{
		ByProduct:      make(map[string]*models.ProductPrices),
		ReportsByStore: make(map[string]int),
	}
	if len(reports) == 0 {
		return out
	}
	out.TotalReports = len(reports)

	sums := make(map[string]decimal.Decimal)
	var trusted []*models.PriceReport
	for _, r := range reports {
		out.TotalVotes += len(r.Upvotes) + len(r.Downvotes)
		out.ReportsByStore[r.StoreID]++
		if r.VoteScore > 0 {
			out.TrustedReports++
			trusted = append(trusted, r)
		}

		pp, ok := out.ByProduct[r.ProductID]
		if !ok {
			pp = &models.ProductPrices{ProductID: r.ProductID, Min: r.Price, Max: r.Price, Cheapest: r}
			out.ByProduct[r.ProductID] = pp
		}
		pp.Reports++
		sums[r.ProductID] = sums[r.ProductID].Add(r.Price)
		if r.Price.LessThan(pp.Min) {
			pp.Min = r.Price
			pp.Cheapest = r
		}
		if r.Price.GreaterThan(pp.Max) {
			pp.Max = r.Price
		}
	}
	for id, pp := range out.ByProduct {
		pp.Average = sums[id].Div(decimal.NewFromInt(int64(pp.Reports))).Round(2)
	}

	// Top 5 by score, newest first on ties
	sort.SliceStable(trusted, func(i, j int) bool {
		if trusted[i].VoteScore != trusted[j].VoteScore {
			return trusted[i].VoteScore > trusted[j].VoteScore
		}
		return trusted[i].CreatedAt.After(trusted[j].CreatedAt)
	})
	if len(trusted) > 5 {
		trusted = trusted[:5]
	}
	out.MostTrusted = trusted

	s.logger.Debug("insights over %d reports, %d products", out.TotalReports, len(out.ByProduct))
	return out
}

// Print renders the insights for a terminal. names maps product and store
// ids to display names; unknown ids are shown as is.
func (s *InsightService) Print(r *models.PriceInsights, names map[string]string) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  PRICE REPORT INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Price reports   : \033[1m%d\033[0m\n", r.TotalReports)
	fmt.Printf("  Votes cast      : \033[1m%d\033[0m\n", r.TotalVotes)
	fmt.Printf("  Trusted reports : \033[1m%d\033[0m\n", r.TrustedReports)
	fmt.Println()

	fmt.Printf("\033[1;33m  Prices by Product\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ByProduct) == 0 {
		fmt.Printf("  No price data available\n")
	} else {
		products := make([]*models.ProductPrices, 0, len(r.ByProduct))
		for _, pp := range r.ByProduct {
			products = append(products, pp)
		}
		sort.Slice(products, func(i, j int) bool {
			return products[i].Reports > products[j].Reports
		})
		for _, pp := range products {
			fmt.Printf("  %-28s avg \033[1;32m%s\033[0m  min %s  max %s  (%d)\n",
				truncate(name(pp.ProductID), 28), pp.Average.StringFixed(2),
				pp.Min.StringFixed(2), pp.Max.StringFixed(2), pp.Reports)
			if pp.Cheapest != nil {
				fmt.Printf("  %-28s cheapest at %s\n", "", truncate(name(pp.Cheapest.StoreID), 30))
			}
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Most Trusted Reports\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.MostTrusted) == 0 {
		fmt.Printf("  No upvoted reports yet\n")
	} else {
		for i, p := range r.MostTrusted {
			fmt.Printf("  \033[1m%d.\033[0m %-30s %8s \033[1;32m+%d\033[0m\n",
				i+1, truncate(name(p.ProductID), 30), p.Price.StringFixed(2), p.VoteScore)
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Reports by Store\033[0m\n")
	fmt.Printf("  %s\n", thin)
	type storeCount struct {
		id    string
		count int
	}
	var counts []storeCount
	for id, cnt := range r.ReportsByStore {
		counts = append(counts, storeCount{id, cnt})
	}
	sort.Slice(counts, func(i, j int) bool {
		return counts[i].count > counts[j].count
	})
	for _, sc := range counts {
		bar := strings.Repeat("█", sc.count)
		fmt.Printf("  %-30s %s (%d)\n", truncate(name(sc.id), 28), bar, sc.count)
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
