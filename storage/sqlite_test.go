package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricepulse/models"
	"pricepulse/utils"
)

func newTestSQLite(t *testing.T) *SQLiteLedger {
	t.Helper()
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), utils.NewLogger())
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestSQLiteRoundTrip(t *testing.T) {
	ledger := newTestSQLite(t)
	ctx := context.Background()

	p := &models.Product{
		ID: "amazon:B01", Marketplace: "amazon", ExternalID: "B01",
		Title: "Wireless Earbuds", Category: []string{"audio", "electronics"},
		Currency: "USD", CurrentPrice: 79.99, Rating: 4.5, ReviewCount: 1234,
		URL: "https://amazon.com/dp/B01", LastSeen: time.Now(),
		RawAttributes: map[string]string{"brand": "Acme"},
	}
	rec := &models.PriceRecord{ProductID: p.ID, Price: 79.99, Currency: "USD", ObservedAt: time.Now(), Source: "run-1"}

	if err := ledger.Observe(ctx, p, rec); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	got, err := ledger.GetProduct(ctx, "amazon:B01")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Title != p.Title || got.CurrentPrice != p.CurrentPrice || got.ReviewCount != p.ReviewCount {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.Category) != 2 || got.Category[0] != "audio" {
		t.Errorf("categories = %v; want [audio electronics]", got.Category)
	}
	if got.RawAttributes["brand"] != "Acme" {
		t.Errorf("raw attributes = %v", got.RawAttributes)
	}

	history, err := ledger.PriceHistory(ctx, "amazon:B01", time.Time{})
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 1 || history[0].Price != 79.99 {
		t.Errorf("history = %v; want one 79.99 record", history)
	}
}

func TestSQLiteUpsertOverwrites(t *testing.T) {
	ledger := newTestSQLite(t)
	ctx := context.Background()

	p := &models.Product{ID: "amazon:B01", Marketplace: "amazon", ExternalID: "B01",
		Title: "Old Title", Currency: "USD", CurrentPrice: 100, LastSeen: time.Now()}
	if err := ledger.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	p.Title = "New Title"
	p.CurrentPrice = 90
	if err := ledger.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("UpsertProduct again: %v", err)
	}

	got, err := ledger.GetProduct(ctx, "amazon:B01")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Title != "New Title" || got.CurrentPrice != 90 {
		t.Errorf("upsert did not overwrite: %+v", got)
	}

	all, err := ledger.QueryProducts(ctx, Filter{})
	if err != nil {
		t.Fatalf("QueryProducts: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("product count = %d; want 1 after double upsert", len(all))
	}
}

func TestSQLitePriceHistoryWindow(t *testing.T) {
	ledger := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	p := &models.Product{ID: "amazon:B01", Marketplace: "amazon", ExternalID: "B01",
		Title: "Widget", Currency: "USD", CurrentPrice: 80, LastSeen: now}
	if err := ledger.Observe(ctx, p, &models.PriceRecord{
		ProductID: p.ID, Price: 100, Currency: "USD", ObservedAt: now.AddDate(0, 0, -60), Source: "old"}); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := ledger.AppendPrice(ctx, &models.PriceRecord{
		ProductID: p.ID, Price: 80, Currency: "USD", ObservedAt: now.AddDate(0, 0, -1), Source: "new"}); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}

	all, err := ledger.PriceHistory(ctx, p.ID, time.Time{})
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("full history = %d records; want 2", len(all))
	}

	recent, err := ledger.PriceHistory(ctx, p.ID, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PriceHistory windowed: %v", err)
	}
	if len(recent) != 1 || recent[0].Price != 80 {
		t.Errorf("windowed history = %v; want just the recent record", recent)
	}
}

func TestSQLiteLateObservationKeepsNewestPrice(t *testing.T) {
	ledger := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	p := &models.Product{ID: "amazon:B01", Marketplace: "amazon", ExternalID: "B01",
		Title: "Widget", Currency: "USD", CurrentPrice: 100, LastSeen: now}
	if err := ledger.Observe(ctx, p, &models.PriceRecord{
		ProductID: p.ID, Price: 100, Currency: "USD", ObservedAt: now, Source: "run-1"}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	// A correction observed an hour earlier lands second. The history grows
	// but the product must keep the newer price.
	late := &models.Product{ID: "amazon:B01", Marketplace: "amazon", ExternalID: "B01",
		Title: "Widget", Currency: "USD", CurrentPrice: 90, LastSeen: now}
	if err := ledger.Observe(ctx, late, &models.PriceRecord{
		ProductID: p.ID, Price: 90, Currency: "USD", ObservedAt: now.Add(-time.Hour), Source: "run-2"}); err != nil {
		t.Fatalf("Observe late: %v", err)
	}

	got, err := ledger.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	history, err := ledger.PriceHistory(ctx, p.ID, time.Time{})
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d records; want 2", len(history))
	}
	if newest := history[len(history)-1]; got.CurrentPrice != newest.Price || got.CurrentPrice != 100 {
		t.Errorf("current price %.2f; want 100.00 (newest entry %.2f)", got.CurrentPrice, newest.Price)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	ledger := newTestSQLite(t)

	_, err := ledger.GetProduct(context.Background(), "amazon:missing")
	if !models.IsNotFound(err) {
		t.Errorf("GetProduct: expected NotFoundError, got %v", err)
	}
	_, err = ledger.PriceHistory(context.Background(), "amazon:missing", time.Time{})
	if !models.IsNotFound(err) {
		t.Errorf("PriceHistory: expected NotFoundError, got %v", err)
	}
}

func TestSQLiteReviews(t *testing.T) {
	ledger := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	reviews := []*models.Review{
		{ProductID: "amazon:B01", Text: "Later review", Rating: 4, ObservedAt: now},
		{ProductID: "amazon:B01", Text: "Earlier review", Rating: 5, ObservedAt: now.Add(-time.Hour)},
		{ProductID: "amazon:B02", Text: "Other product", Rating: 3, ObservedAt: now},
	}
	if err := ledger.SaveReviews(ctx, reviews); err != nil {
		t.Fatalf("SaveReviews: %v", err)
	}

	got, err := ledger.Reviews(ctx, "amazon:B01")
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("reviews = %d; want 2", len(got))
	}
	if got[0].Text != "Earlier review" {
		t.Errorf("reviews not ordered by observation time: %v", got[0].Text)
	}
}
