package services

import (
	"context"
	"testing"
	"time"

	"pricepulse/models"
	"pricepulse/storage"
)

func newTestQuery(t *testing.T, ledger storage.Ledger) *Query {
	t.Helper()
	trend := NewTrendAnalyzer(ledger, 1.0)
	sentiment := NewSentimentExtractor(ledger, testLexicon(t), 5, 0)
	cfg, err := LoadCompareConfig("")
	if err != nil {
		t.Fatalf("LoadCompareConfig: %v", err)
	}
	comparator := NewComparator(ledger, trend, sentiment, cfg, 10, 30)
	return NewQuery(ledger, trend, sentiment, comparator, newTestLogger())
}

func seedCatalog(t *testing.T, ledger storage.Ledger) {
	t.Helper()
	products := []*models.Product{
		{ID: "amazon:A1", Marketplace: "amazon", ExternalID: "A1", Title: "Wireless Earbuds", Category: []string{"audio"}, Currency: "USD", CurrentPrice: 79.99, Rating: 4.5, LastSeen: time.Now()},
		{ID: "amazon:A2", Marketplace: "amazon", ExternalID: "A2", Title: "Gaming Laptop", Category: []string{"computers"}, Currency: "USD", CurrentPrice: 1299, Rating: 4.0, LastSeen: time.Now()},
		{ID: "walmart:W1", Marketplace: "walmart", ExternalID: "W1", Title: "Bluetooth Speaker", Category: []string{"audio"}, Currency: "USD", CurrentPrice: 39.99, Rating: 3.8, LastSeen: time.Now()},
	}
	for _, p := range products {
		rec := &models.PriceRecord{ProductID: p.ID, Price: p.CurrentPrice, Currency: "USD", ObservedAt: time.Now(), Source: "test"}
		if err := ledger.Observe(context.Background(), p, rec); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
}

func TestSearchByMarketplace(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	results, err := q.Search(context.Background(), storage.Filter{Marketplace: "amazon"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results; want 2 amazon products", len(results))
	}
}

func TestSearchByCategoryAndPrice(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	results, err := q.Search(context.Background(), storage.Filter{
		Category: "audio",
		MaxPrice: 50,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "walmart:W1" {
		t.Errorf("results = %v; want just the speaker under $50", ids(results))
	}
}

func TestSearchSortsByPrice(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	results, err := q.Search(context.Background(), storage.Filter{SortBy: "price_asc"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].CurrentPrice < results[i-1].CurrentPrice {
			t.Errorf("results not sorted ascending by price: %v", ids(results))
			break
		}
	}
}

func TestSearchTextQuery(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	results, err := q.Search(context.Background(), storage.Filter{Query: "laptop"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "amazon:A2" {
		t.Errorf("results = %v; want just the laptop", ids(results))
	}
}

func TestSearchPagination(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	page1, err := q.Search(context.Background(), storage.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	page2, err := q.Search(context.Background(), storage.Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page1) != 2 || len(page2) != 1 {
		t.Errorf("pagination: page1=%d page2=%d; want 2 and 1", len(page1), len(page2))
	}
}

func TestGetSentimentUnknownProduct(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	q := newTestQuery(t, ledger)

	_, err := q.GetSentiment(context.Background(), "amazon:nope")
	if !models.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestGetSentimentKnownProductNoReviews(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	res, err := q.GetSentiment(context.Background(), "amazon:A1")
	if err != nil {
		t.Fatalf("GetSentiment: %v", err)
	}
	if !res.NoData {
		t.Error("expected NoData for a reviewless product")
	}
}

func TestStatsOverview(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedCatalog(t, ledger)
	q := newTestQuery(t, ledger)

	overview, err := q.StatsOverview(context.Background())
	if err != nil {
		t.Fatalf("StatsOverview: %v", err)
	}

	if overview.TotalProducts != 3 {
		t.Errorf("total products = %d; want 3", overview.TotalProducts)
	}
	if overview.ByMarketplace["amazon"] != 2 || overview.ByMarketplace["walmart"] != 1 {
		t.Errorf("by marketplace = %v", overview.ByMarketplace)
	}
	if overview.ByCategory["audio"] != 2 {
		t.Errorf("audio category count = %d; want 2", overview.ByCategory["audio"])
	}
	if overview.MinPrice != 39.99 || overview.MaxPrice != 1299 {
		t.Errorf("min/max = %.2f/%.2f; want 39.99/1299", overview.MinPrice, overview.MaxPrice)
	}
	if overview.MedianPrice != 79.99 {
		t.Errorf("median = %.2f; want 79.99", overview.MedianPrice)
	}
	if overview.TotalPricePoints != 3 {
		t.Errorf("price points = %d; want 3", overview.TotalPricePoints)
	}
}

func TestStatsOverviewEmptyLedger(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	q := newTestQuery(t, ledger)

	overview, err := q.StatsOverview(context.Background())
	if err != nil {
		t.Fatalf("StatsOverview: %v", err)
	}
	if overview.TotalProducts != 0 {
		t.Errorf("total products = %d; want 0", overview.TotalProducts)
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"electronics", 28, "electronics"},
		{"a very long category label here", 10, "a very ..."},
		{"électroménager et café", 10, "électro..."},
		{"家電・オーディオ機器カテゴリ", 10, "家電・オーディ..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func ids(products []*models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}
