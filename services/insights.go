package services

import (
	"fmt"
	"sort"
	"strings"

	"flipfinder/models"
	"flipfinder/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []*models.Listing) *models.OpportunityReport {
	report := &models.OpportunityReport{
		ByPlatform: make(map[string]int),
		ByCategory: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalOpportunities = len(listings)

	var discountTotal, scoreTotal float64
	scored := make([]*models.Listing, 0, len(listings))

	for _, l := range listings {
		discountTotal += l.DiscountPercent
		scoreTotal += l.ValueScore
		if l.Platform != "" {
			report.ByPlatform[l.Platform]++
		}
		if l.Category != "" {
			report.ByCategory[l.Category]++
		}
		if report.BestProfit == nil || l.ProfitPotential > report.BestProfit.ProfitPotential {
			report.BestProfit = l
		}
		scored = append(scored, l)
	}

	report.AverageDiscount = round2(discountTotal / float64(len(listings)))
	report.AverageScore = round2(scoreTotal / float64(len(listings)))

	// Top 5 by value score
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].ValueScore > scored[j].ValueScore
	})
	if len(scored) > 5 {
		report.TopScored = scored[:5]
	} else {
		report.TopScored = scored
	}

	return report
}

func (s *InsightService) Print(r *models.OpportunityReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 FLIP OPPORTUNITY INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Active opportunities   : \033[1m%d\033[0m\n", r.TotalOpportunities)
	if r.TotalOpportunities > 0 {
		fmt.Printf("  Average discount       : \033[1;32m%.0f%%\033[0m\n", r.AverageDiscount)
		fmt.Printf("  Average value score    : \033[1m%.0f\033[0m\n", r.AverageScore)
	}
	fmt.Println()

	// Best Profit
	if r.BestProfit != nil {
		fmt.Printf("\033[1;33m  Best Profit Potential\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(r.BestProfit.Title, 50))
		fmt.Printf("  Asking   : $%.2f\n", r.BestProfit.AskingPrice)
		fmt.Printf("  Estimate : $%.2f\n", r.BestProfit.EstimatedValue)
		fmt.Printf("  Profit   : \033[1;32m$%.2f\033[0m\n", r.BestProfit.ProfitPotential)
		fmt.Println()
	}

	// Top scored
	fmt.Printf("\033[1;33m  Top 5 by Value Score\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.TopScored) == 0 {
		fmt.Printf("  No opportunities found\n")
	} else {
		for i, l := range r.TopScored {
			title := truncate(l.Title, 38)
			fmt.Printf("  \033[1m%d.\033[0m %-40s \033[1;32m%.0f\033[0m\n",
				i+1, title, l.ValueScore)
		}
	}
	fmt.Println()

	// By platform
	fmt.Printf("\033[1;33m  Opportunities by Platform\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ByPlatform) == 0 {
		fmt.Printf("  No platform data\n")
	} else {
		type platCount struct {
			platform string
			count    int
		}
		var plats []platCount
		for plat, cnt := range r.ByPlatform {
			plats = append(plats, platCount{plat, cnt})
		}
		sort.Slice(plats, func(i, j int) bool {
			return plats[i].count > plats[j].count
		})
		for _, pc := range plats {
			bar := strings.Repeat("█", pc.count)
			fmt.Printf("  %-30s %s (%d)\n", truncate(pc.platform, 28), bar, pc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
