package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"krisha-scraper/models"
	"krisha-scraper/utils"
)

// SummaryService computes and prints the end-of-run report.
type SummaryService struct {
	logger *utils.Logger
}

func NewSummaryService(logger *utils.Logger) *SummaryService {
	return &SummaryService{logger: logger}
}

// Generate summarises a run's emitted records and rejections.
func (s *SummaryService) Generate(emitted []*models.ListingRecord, rejected []models.RejectionReport) *models.RunSummary {
	report := &models.RunSummary{
		Emitted:            len(emitted),
		Rejected:           len(rejected),
		RejectedByStage:    make(map[models.Stage]int),
		ListingsByDistrict: make(map[string]int),
	}

	for _, r := range rejected {
		report.RejectedByStage[r.Stage]++
	}

	if len(emitted) == 0 {
		return report
	}

	report.MinPrice = emitted[0].Price
	report.MaxPrice = emitted[0].Price
	report.MostExpensive = emitted[0]

	var total, perM2 float64
	for _, l := range emitted {
		report.ListingsByDistrict[l.District]++
		total += l.Price
		perM2 += l.Price / l.Area
		if l.Price < report.MinPrice {
			report.MinPrice = l.Price
		}
		if l.Price > report.MaxPrice {
			report.MaxPrice = l.Price
			report.MostExpensive = l
		}
	}
	report.AveragePrice = round2(total / float64(len(emitted)))
	report.AveragePricePerM2 = round2(perM2 / float64(len(emitted)))

	s.logger.Debug("[summary] %d emitted, %d rejected", report.Emitted, report.Rejected)
	return report
}

// Print writes a human-readable report to w.
func (s *SummaryService) Print(w io.Writer, r *models.RunSummary) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  KRISHA SCRAPE SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Emitted listings  : \033[1m%d\033[0m\n", r.Emitted)
	fmt.Fprintf(w, "  Rejected listings : \033[1m%d\033[0m\n", r.Rejected)
	for _, stage := range models.Stages {
		if n := r.RejectedByStage[stage]; n > 0 {
			fmt.Fprintf(w, "    %-15s : %d\n", stage, n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics (₸)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.Emitted > 0 {
		fmt.Fprintf(w, "  Average price    : \033[1;32m%.0f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price    : \033[1;32m%.0f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price    : \033[1;32m%.0f\033[0m\n", r.MaxPrice)
		fmt.Fprintf(w, "  Average per m²   : \033[1;32m%.0f\033[0m\n", r.AveragePricePerM2)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  District : %s\n", r.MostExpensive.District)
		fmt.Fprintf(w, "  Price    : \033[1;31m%.0f ₸\033[0m\n", r.MostExpensive.Price)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Listings by District\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByDistrict) == 0 {
		fmt.Fprintf(w, "  No district data\n")
	} else {
		type districtCount struct {
			name  string
			count int
		}
		var counts []districtCount
		for name, cnt := range r.ListingsByDistrict {
			counts = append(counts, districtCount{name, cnt})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].count != counts[j].count {
				return counts[i].count > counts[j].count
			}
			return counts[i].name < counts[j].name
		})
		for _, dc := range counts {
			fmt.Fprintf(w, "  %-30s %d\n", truncate(dc.name, 28), dc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
