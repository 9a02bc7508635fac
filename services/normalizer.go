package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"pricepulse/models"
	"pricepulse/utils"
)

var (
	// priceRegexp captures numeric price values
	priceRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	// ratingRegexp captures a numeric rating in the 0.0–5.0 range
	ratingRegexp = regexp.MustCompile(`\b([0-5](?:\.\d{1,2})?)\b`)
	// countRegexp captures an integer count, possibly with thousands separators
	countRegexp = regexp.MustCompile(`[\d,]+`)
)

// categoryKeywords maps a category tag to title keywords that imply it.
var categoryKeywords = map[string][]string{
	"computers":   {"laptop", "computer", "macbook", "notebook", "desktop", "pc"},
	"smartphones": {"phone", "iphone", "smartphone", "android", "galaxy", "pixel"},
	"books":       {"book", "novel", "kindle", "paperback", "hardcover"},
	"fashion":     {"shirt", "pants", "dress", "jacket", "shoes", "sneaker"},
	"toys":        {"toy", "lego", "doll", "puzzle", "board game"},
	"home":        {"kitchen", "furniture", "decor", "cookware", "vacuum"},
	"audio":       {"headphone", "earbud", "speaker", "soundbar"},
}

// Normalizer maps raw adapter output into canonical records and applies
// the merge policy against previously-stored state.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts a raw record into a canonical Product. Records missing
// a title, an external id, or a parseable price are rejected with
// ValidationError and should be skipped, not aborted on.
func (n *Normalizer) Normalize(raw *models.RawRecord) (*models.Product, error) {
	externalID := strings.TrimSpace(raw.ExternalID)
	if externalID == "" {
		return nil, &models.ValidationError{Field: "external_id", Detail: "missing"}
	}
	title := normaliseText(raw.Title)
	if title == "" {
		return nil, &models.ValidationError{Field: "title", Detail: "missing"}
	}
	price, err := parsePrice(raw.RawPrice)
	if err != nil {
		return nil, &models.ValidationError{Field: "price", Detail: err.Error()}
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = "USD"
	}

	scrapedAt := raw.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	return &models.Product{
		ID:            models.ProductID(raw.Marketplace, externalID),
		Marketplace:   raw.Marketplace,
		ExternalID:    externalID,
		Title:         title,
		Category:      inferCategories(title, raw.Extra),
		Currency:      currency,
		CurrentPrice:  price,
		Rating:        parseRating(raw.RawRating),
		ReviewCount:   parseCount(raw.RawReviewCount),
		URL:           strings.TrimSpace(raw.URL),
		LastSeen:      scrapedAt,
		RawAttributes: raw.Extra,
	}, nil
}

// Reconcile merges an incoming observation into the existing product state
// and decides whether the observation produces a new price record.
//
// Merge policy: price, rating and review count take the latest observation;
// categories are a set union; title and url take the latest non-empty
// value. A price equal to the last recorded one produces no record, so
// re-ingesting an identical snapshot is a no-op.
func (n *Normalizer) Reconcile(existing, incoming *models.Product, source string, now time.Time) (*models.Product, *models.PriceRecord) {
	merged := incoming
	priceChanged := true

	if existing != nil {
		merged = existing.Clone()
		merged.CurrentPrice = incoming.CurrentPrice
		merged.Currency = incoming.Currency
		merged.Rating = incoming.Rating
		merged.ReviewCount = incoming.ReviewCount
		merged.Category = unionCategories(existing.Category, incoming.Category)
		if incoming.Title != "" {
			merged.Title = incoming.Title
		}
		if incoming.URL != "" {
			merged.URL = incoming.URL
		}
		if len(incoming.RawAttributes) > 0 {
			if merged.RawAttributes == nil {
				merged.RawAttributes = map[string]string{}
			}
			for k, v := range incoming.RawAttributes {
				merged.RawAttributes[k] = v
			}
		}
		priceChanged = existing.CurrentPrice != incoming.CurrentPrice
	}
	merged.LastSeen = now

	if !priceChanged {
		n.logger.Debug("[normalizer] %s price unchanged (%.2f) — no new record", merged.ID, merged.CurrentPrice)
		return merged, nil
	}

	return merged, &models.PriceRecord{
		ProductID:  merged.ID,
		Price:      merged.CurrentPrice,
		Currency:   merged.Currency,
		ObservedAt: now,
		Source:     source,
	}
}

// parsePrice extracts a numeric price from raw marketplace text.
// Examples: "$1,299.00" → 1299, "USD 99" → 99, "£45.50" → 45.5.
func parsePrice(raw string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.ToLower(raw), ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0, fmt.Errorf("unparseable price %q", raw)
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("unparseable price %q", raw)
	}
	return price, nil
}

// parseRating extracts a 0.0–5.0 numeric rating from a raw string.
func parseRating(raw string) float64 {
	match := ratingRegexp.FindStringSubmatch(raw)
	if len(match) < 2 {
		return 0
	}
	val, err := strconv.ParseFloat(match[1], 64)
	if err != nil || val < 0 || val > 5 {
		return 0
	}
	return val
}

// parseCount extracts a non-negative integer like a review count.
func parseCount(raw string) int {
	match := countRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// inferCategories derives category tags from the adapter-supplied category
// path plus keyword matching on the title.
func inferCategories(title string, extra map[string]string) []string {
	set := map[string]struct{}{}

	if path, ok := extra["category_path"]; ok {
		for _, seg := range strings.Split(path, "/") {
			if s := strings.ToLower(strings.TrimSpace(seg)); s != "" {
				set[s] = struct{}{}
			}
		}
	}

	titleLower := strings.ToLower(title)
	for tag, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(titleLower, kw) {
				set[tag] = struct{}{}
				break
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func unionCategories(a, b []string) []string {
	set := map[string]struct{}{}
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		set[c] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
