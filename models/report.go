package models

import "time"

// Trend classification values.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// Trend analysis status values.
const (
	TrendStatusOK               = "ok"
	TrendStatusInsufficientData = "insufficient_data"
)

// TrendReport holds price statistics over a window of recorded points.
// Status is insufficient_data when fewer than two points fall in the window;
// the numeric fields are zero in that case.
type TrendReport struct {
	ProductID  string  `json:"product_id"`
	WindowDays int     `json:"window_days"`
	Points     int     `json:"points"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Avg        float64 `json:"avg"`
	PctChange  float64 `json:"pct_change"`
	Trend      string  `json:"trend"`
	Status     string  `json:"status"`
}

// SentimentResult is derived fresh from the current review set on every
// call; it is never stored as source of truth.
type SentimentResult struct {
	ProductID string   `json:"product_id"`
	Pros      []string `json:"pros"`
	Cons      []string `json:"cons"`
	Score     float64  `json:"score"`
	Reviews   int      `json:"reviews"`
	NoData    bool     `json:"no_data"`
	Lexicon   string   `json:"lexicon_version"`
}

// RankedProduct is one row of a comparison's overall ranking.
type RankedProduct struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
}

// ComparisonResult is the ephemeral field-by-field comparison matrix.
// Matrix maps product id → field name → value; fields a product has no
// value for (e.g. trend with too little history) are absent from its row.
type ComparisonResult struct {
	ProductIDs     []string                      `json:"product_ids"`
	Matrix         map[string]map[string]float64 `json:"matrix"`
	FieldWinners   map[string]string             `json:"field_winners"`
	OverallRanking []RankedProduct               `json:"overall_ranking"`
}

// IngestFailure records one item that failed during an ingestion run.
type IngestFailure struct {
	Marketplace string `json:"marketplace"`
	Item        string `json:"item"`
	Err         string `json:"error"`
}

// IngestReport is the partial-success summary of one ingestion run.
// Individual item failures never abort the run; they land here.
type IngestReport struct {
	RunID     string          `json:"run_id"`
	Query     string          `json:"query"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Succeeded []string        `json:"succeeded"`
	Failed    []IngestFailure `json:"failed"`
	Cancelled bool            `json:"cancelled"`
}

// StatsOverview aggregates ledger-wide counts and price statistics.
type StatsOverview struct {
	TotalProducts    int            `json:"total_products"`
	ByMarketplace    map[string]int `json:"by_marketplace"`
	ByCategory       map[string]int `json:"by_category"`
	MinPrice         float64        `json:"min_price"`
	MaxPrice         float64        `json:"max_price"`
	AvgPrice         float64        `json:"avg_price"`
	MedianPrice      float64        `json:"median_price"`
	TotalPricePoints int            `json:"total_price_points"`
}
