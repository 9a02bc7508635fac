package services

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"pricepulse/models"
	"pricepulse/storage"
)

//go:embed compare.yaml
var defaultCompareConfig []byte

// CompareField configures one dimension of the comparison matrix.
type CompareField struct {
	Name      string  `yaml:"name"`
	Direction string  `yaml:"direction"` // "lower" or "higher" is better
	Weight    float64 `yaml:"weight"`
}

// CompareConfig is the full comparison configuration. Weights and
// directions live here, not in call sites.
type CompareConfig struct {
	Fields []CompareField `yaml:"fields"`
}

// LoadCompareConfig reads the comparison configuration from path, or the
// embedded default when path is empty.
func LoadCompareConfig(path string) (*CompareConfig, error) {
	data := defaultCompareConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("compare config: read %s: %w", path, err)
		}
		data = b
	}
	var cfg CompareConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("compare config: parse: %w", err)
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("compare config: no fields configured")
	}
	return &cfg, nil
}

// Comparator builds field-level comparison matrices across products.
// Trend and sentiment values come from the respective analyzers, so a
// comparison reflects ledger state at call time.
type Comparator struct {
	ledger      storage.Ledger
	trend       *TrendAnalyzer
	sentiment   *SentimentExtractor
	cfg         *CompareConfig
	maxProducts int
	windowDays  int
}

// NewComparator creates a comparison engine over the given analyzers.
func NewComparator(ledger storage.Ledger, trend *TrendAnalyzer, sentiment *SentimentExtractor,
	cfg *CompareConfig, maxProducts, trendWindowDays int) *Comparator {
	if maxProducts < 2 {
		maxProducts = 10
	}
	return &Comparator{
		ledger:      ledger,
		trend:       trend,
		sentiment:   sentiment,
		cfg:         cfg,
		maxProducts: maxProducts,
		windowDays:  trendWindowDays,
	}
}

// Compare builds the comparison matrix for 2..N products. Input order does
// not matter: ids are sorted up front, winners tie-break on the
// lexicographically smaller id, and the overall ranking orders by score
// then id.
func (c *Comparator) Compare(ctx context.Context, productIDs []string) (*models.ComparisonResult, error) {
	ids := dedupeSorted(productIDs)
	if len(ids) < 2 {
		return nil, &models.InvalidComparisonError{Reason: "need at least 2 distinct products", ProductIDs: ids}
	}
	if len(ids) > c.maxProducts {
		return nil, &models.InvalidComparisonError{
			Reason: fmt.Sprintf("at most %d products per comparison", c.maxProducts), ProductIDs: ids}
	}

	products := make(map[string]*models.Product, len(ids))
	var missing []string
	for _, id := range ids {
		p, err := c.ledger.GetProduct(ctx, id)
		if err != nil {
			if models.IsNotFound(err) {
				missing = append(missing, id)
				continue
			}
			return nil, err
		}
		products[id] = p
	}
	if len(missing) > 0 {
		return nil, &models.InvalidComparisonError{Reason: "unknown products", ProductIDs: missing}
	}

	result := &models.ComparisonResult{
		ProductIDs:   ids,
		Matrix:       make(map[string]map[string]float64, len(ids)),
		FieldWinners: make(map[string]string, len(c.cfg.Fields)),
	}

	for _, id := range ids {
		row := map[string]float64{}
		for _, field := range c.cfg.Fields {
			if v, ok := c.fieldValue(ctx, field.Name, products[id]); ok {
				row[field.Name] = v
			}
		}
		result.Matrix[id] = row
	}

	scores := make(map[string]float64, len(ids))
	for _, field := range c.cfg.Fields {
		c.scoreField(field, ids, result, scores)
	}

	ranking := make([]models.RankedProduct, 0, len(ids))
	for _, id := range ids {
		ranking = append(ranking, models.RankedProduct{ProductID: id, Score: scores[id]})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score > ranking[j].Score
		}
		return ranking[i].ProductID < ranking[j].ProductID
	})
	result.OverallRanking = ranking

	return result, nil
}

// fieldValue resolves one matrix cell. Products without a usable value for
// a field (no price history for trend, say) are left out of that field.
func (c *Comparator) fieldValue(ctx context.Context, field string, p *models.Product) (float64, bool) {
	switch field {
	case "price":
		return p.CurrentPrice, p.CurrentPrice > 0
	case "rating":
		return p.Rating, p.Rating > 0
	case "review_count":
		return float64(p.ReviewCount), true
	case "trend":
		report, err := c.trend.Analyze(ctx, p.ID, c.windowDays)
		if err != nil || report.Status != models.TrendStatusOK {
			return 0, false
		}
		return report.PctChange, true
	case "sentiment":
		res, err := c.sentiment.Analyze(ctx, p.ID)
		if err != nil || res.NoData {
			return 0, false
		}
		return res.Score, true
	default:
		return 0, false
	}
}

// scoreField picks the per-field winner and adds each product's normalized
// weighted contribution to the overall score. Normalization is min-max
// within the comparison set; when all values tie everyone gets full credit.
func (c *Comparator) scoreField(field CompareField, ids []string, result *models.ComparisonResult, scores map[string]float64) {
	lowerIsBetter := field.Direction == "lower"

	var present []string
	for _, id := range ids {
		if _, ok := result.Matrix[id][field.Name]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return
	}

	best, worst := result.Matrix[present[0]][field.Name], result.Matrix[present[0]][field.Name]
	winner := present[0]
	for _, id := range present[1:] {
		v := result.Matrix[id][field.Name]
		if better(v, result.Matrix[winner][field.Name], lowerIsBetter) {
			winner = id
		}
		if better(v, best, lowerIsBetter) {
			best = v
		}
		if better(worst, v, lowerIsBetter) {
			worst = v
		}
	}
	result.FieldWinners[field.Name] = winner

	for _, id := range present {
		v := result.Matrix[id][field.Name]
		norm := 1.0
		if best != worst {
			norm = (v - worst) / (best - worst)
		}
		scores[id] += field.Weight * norm
	}
}

// better reports whether a beats b for the field direction. Equal values
// are not better, so the first (lexicographically smallest) id keeps wins.
func better(a, b float64, lowerIsBetter bool) bool {
	if lowerIsBetter {
		return a < b
	}
	return a > b
}

func dedupeSorted(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
