package services

import (
	"context"
	"math"
	"testing"
	"time"

	"pricepulse/models"
	"pricepulse/storage"
)

func seedPrices(t *testing.T, ledger storage.Ledger, id string, prices []float64) {
	t.Helper()
	base := time.Now().AddDate(0, 0, -len(prices))
	p := &models.Product{ID: id, Marketplace: "amazon", ExternalID: id, Title: "Test", Currency: "USD"}
	for i, price := range prices {
		p.CurrentPrice = price
		rec := &models.PriceRecord{
			ProductID:  id,
			Price:      price,
			Currency:   "USD",
			ObservedAt: base.AddDate(0, 0, i),
			Source:     "test",
		}
		if err := ledger.Observe(context.Background(), p, rec); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
}

func TestTrendFallingPrices(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedPrices(t, ledger, "amazon:A1", []float64{100, 95, 90})

	analyzer := NewTrendAnalyzer(ledger, 1.0)
	report, err := analyzer.Analyze(context.Background(), "amazon:A1", 30)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if report.Status != models.TrendStatusOK {
		t.Fatalf("status = %q; want ok", report.Status)
	}
	if report.Trend != models.TrendDown {
		t.Errorf("trend = %q; want down", report.Trend)
	}
	if math.Abs(report.PctChange-(-10)) > 1e-9 {
		t.Errorf("pct change = %.4f; want -10", report.PctChange)
	}
	if report.Min != 90 || report.Max != 100 {
		t.Errorf("min/max = %.2f/%.2f; want 90/100", report.Min, report.Max)
	}
	if math.Abs(report.Avg-95) > 1e-9 {
		t.Errorf("avg = %.4f; want 95", report.Avg)
	}
}

func TestTrendStableWithinThreshold(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedPrices(t, ledger, "amazon:A2", []float64{100, 100.5})

	analyzer := NewTrendAnalyzer(ledger, 1.0)
	report, err := analyzer.Analyze(context.Background(), "amazon:A2", 30)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Trend != models.TrendStable {
		t.Errorf("trend = %q; want stable for +0.5%% under 1%% threshold", report.Trend)
	}
}

func TestTrendRisingPrices(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedPrices(t, ledger, "amazon:A3", []float64{50, 55})

	analyzer := NewTrendAnalyzer(ledger, 1.0)
	report, err := analyzer.Analyze(context.Background(), "amazon:A3", 30)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Trend != models.TrendUp {
		t.Errorf("trend = %q; want up", report.Trend)
	}
}

func TestTrendInsufficientData(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedPrices(t, ledger, "amazon:A4", []float64{100})

	analyzer := NewTrendAnalyzer(ledger, 1.0)
	report, err := analyzer.Analyze(context.Background(), "amazon:A4", 30)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Status != models.TrendStatusInsufficientData {
		t.Errorf("status = %q; want insufficient_data for a single point", report.Status)
	}
	if report.Points != 1 {
		t.Errorf("points = %d; want 1", report.Points)
	}
}

func TestTrendUnknownProduct(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	analyzer := NewTrendAnalyzer(ledger, 1.0)

	_, err := analyzer.Analyze(context.Background(), "amazon:missing", 30)
	if !models.IsNotFound(err) {
		t.Errorf("expected NotFoundError for unknown product, got %v", err)
	}
}

func TestTrendWindowExcludesOldPoints(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	id := "amazon:A5"
	p := &models.Product{ID: id, Marketplace: "amazon", ExternalID: "A5", Title: "Test", Currency: "USD", CurrentPrice: 80}

	old := &models.PriceRecord{ProductID: id, Price: 200, Currency: "USD", ObservedAt: time.Now().AddDate(0, 0, -60), Source: "test"}
	recent := &models.PriceRecord{ProductID: id, Price: 80, Currency: "USD", ObservedAt: time.Now().AddDate(0, 0, -1), Source: "test"}
	if err := ledger.Observe(context.Background(), p, old); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := ledger.AppendPrice(context.Background(), recent); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}

	analyzer := NewTrendAnalyzer(ledger, 1.0)
	report, err := analyzer.Analyze(context.Background(), id, 30)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Points != 1 {
		t.Errorf("points = %d; want 1 (60-day-old point outside 30-day window)", report.Points)
	}
	if report.Status != models.TrendStatusInsufficientData {
		t.Errorf("status = %q; want insufficient_data", report.Status)
	}
}
