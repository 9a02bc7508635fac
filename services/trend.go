package services

import (
	"context"
	"time"

	"pricepulse/models"
	"pricepulse/storage"
)

// TrendAnalyzer computes price statistics and a directional trend over a
// window of the ledger's recorded points. It holds no mutable state; every
// call is a pure function of ledger contents.
type TrendAnalyzer struct {
	ledger       storage.Ledger
	thresholdPct float64
}

// NewTrendAnalyzer creates an analyzer with the given classification
// threshold (percent change below which the trend counts as stable).
func NewTrendAnalyzer(ledger storage.Ledger, thresholdPct float64) *TrendAnalyzer {
	if thresholdPct <= 0 {
		thresholdPct = 1.0
	}
	return &TrendAnalyzer{ledger: ledger, thresholdPct: thresholdPct}
}

// Analyze selects all price records observed within the last windowDays and
// computes min/max/avg plus the percent change from first to last point.
// Fewer than two points yields an insufficient_data report, not an error.
// Missing days are not interpolated; only recorded points count.
func (t *TrendAnalyzer) Analyze(ctx context.Context, productID string, windowDays int) (*models.TrendReport, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	records, err := t.ledger.PriceHistory(ctx, productID, since)
	if err != nil {
		return nil, err
	}

	report := &models.TrendReport{
		ProductID:  productID,
		WindowDays: windowDays,
		Points:     len(records),
	}

	if len(records) < 2 {
		report.Status = models.TrendStatusInsufficientData
		return report, nil
	}

	first := records[0].Price
	last := records[len(records)-1].Price

	report.Min = records[0].Price
	report.Max = records[0].Price
	var sum float64
	for _, rec := range records {
		sum += rec.Price
		if rec.Price < report.Min {
			report.Min = rec.Price
		}
		if rec.Price > report.Max {
			report.Max = rec.Price
		}
	}
	report.Avg = sum / float64(len(records))
	report.PctChange = (last - first) / first * 100

	switch {
	case report.PctChange > t.thresholdPct:
		report.Trend = models.TrendUp
	case report.PctChange < -t.thresholdPct:
		report.Trend = models.TrendDown
	default:
		report.Trend = models.TrendStable
	}
	report.Status = models.TrendStatusOK

	return report, nil
}
