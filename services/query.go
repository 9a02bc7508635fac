package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pricepulse/models"
	"pricepulse/storage"
	"pricepulse/utils"
)

// Query is the read-side facade the presentation layer calls into. All
// operations are side-effect-free and safe to run concurrently; they are
// pure functions of ledger contents at call time.
type Query struct {
	ledger    storage.Ledger
	trend     *TrendAnalyzer
	sentiment *SentimentExtractor
	compare   *Comparator
	logger    *utils.Logger
}

// NewQuery wires the query facade over the ledger and analyzers.
func NewQuery(ledger storage.Ledger, trend *TrendAnalyzer, sentiment *SentimentExtractor,
	compare *Comparator, logger *utils.Logger) *Query {
	return &Query{
		ledger:    ledger,
		trend:     trend,
		sentiment: sentiment,
		compare:   compare,
		logger:    logger,
	}
}

// Search returns products matching the filter.
func (q *Query) Search(ctx context.Context, f storage.Filter) ([]*models.Product, error) {
	return q.ledger.QueryProducts(ctx, f)
}

// GetProduct returns one product by canonical id.
func (q *Query) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return q.ledger.GetProduct(ctx, id)
}

// GetPriceHistory returns the ordered price stream for the last `days`
// days (all history when days <= 0).
func (q *Query) GetPriceHistory(ctx context.Context, id string, days int) ([]*models.PriceRecord, error) {
	var since time.Time
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}
	return q.ledger.PriceHistory(ctx, id, since)
}

// Trend runs the price trend analyzer for one product.
func (q *Query) Trend(ctx context.Context, id string, windowDays int) (*models.TrendReport, error) {
	return q.trend.Analyze(ctx, id, windowDays)
}

// GetSentiment derives the sentiment result for one product. The id must
// resolve even when it has no reviews yet.
func (q *Query) GetSentiment(ctx context.Context, id string) (*models.SentimentResult, error) {
	if _, err := q.ledger.GetProduct(ctx, id); err != nil {
		return nil, err
	}
	return q.sentiment.Analyze(ctx, id)
}

// Compare builds the comparison matrix for the given product ids.
func (q *Query) Compare(ctx context.Context, ids []string) (*models.ComparisonResult, error) {
	return q.compare.Compare(ctx, ids)
}

// StatsOverview aggregates ledger-wide counts and price statistics.
func (q *Query) StatsOverview(ctx context.Context) (*models.StatsOverview, error) {
	products, err := q.ledger.QueryProducts(ctx, storage.Filter{})
	if err != nil {
		return nil, err
	}

	overview := &models.StatsOverview{
		TotalProducts: len(products),
		ByMarketplace: make(map[string]int),
		ByCategory:    make(map[string]int),
	}
	if len(products) == 0 {
		return overview, nil
	}

	prices := make([]float64, 0, len(products))
	var sum float64
	for _, p := range products {
		overview.ByMarketplace[p.Marketplace]++
		for _, c := range p.Category {
			overview.ByCategory[c]++
		}
		if p.CurrentPrice > 0 {
			prices = append(prices, p.CurrentPrice)
			sum += p.CurrentPrice
		}

		history, err := q.ledger.PriceHistory(ctx, p.ID, time.Time{})
		if err == nil {
			overview.TotalPricePoints += len(history)
		}
	}

	if len(prices) > 0 {
		sort.Float64s(prices)
		overview.MinPrice = prices[0]
		overview.MaxPrice = prices[len(prices)-1]
		overview.AvgPrice = round2(sum / float64(len(prices)))
		overview.MedianPrice = prices[len(prices)/2]
	}
	return overview, nil
}

// PrintOverview renders the stats overview to stdout after an ingestion run.
func (q *Query) PrintOverview(r *models.StatsOverview) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 PRODUCT LEDGER OVERVIEW\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Totals\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Products tracked : \033[1m%d\033[0m\n", r.TotalProducts)
	fmt.Printf("  Price points     : \033[1m%d\033[0m\n", r.TotalPricePoints)
	fmt.Println()

	fmt.Printf("\033[1;33m  Price Statistics\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AvgPrice > 0 {
		fmt.Printf("  Average price : \033[1;32m$%.2f\033[0m\n", r.AvgPrice)
		fmt.Printf("  Median price  : \033[1;32m$%.2f\033[0m\n", r.MedianPrice)
		fmt.Printf("  Minimum price : \033[1;32m$%.2f\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price : \033[1;32m$%.2f\033[0m\n", r.MaxPrice)
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Products by Marketplace\033[0m\n")
	fmt.Printf("  %s\n", thin)
	printCountBars(r.ByMarketplace)
	fmt.Println()

	fmt.Printf("\033[1;33m  Products by Category\033[0m\n")
	fmt.Printf("  %s\n", thin)
	printCountBars(r.ByCategory)

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func printCountBars(counts map[string]int) {
	if len(counts) == 0 {
		fmt.Printf("  No data\n")
		return
	}
	type kc struct {
		key   string
		count int
	}
	var rows []kc
	for k, c := range counts {
		rows = append(rows, kc{k, c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, row := range rows {
		bar := strings.Repeat("█", row.count)
		fmt.Printf("  %-30s %s (%d)\n", truncate(row.key, 28), bar, row.count)
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
