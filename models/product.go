package models

import (
	"time"
)

// RawRecord holds unprocessed listing data exactly as the marketplace
// adapter extracted it. Field values are raw strings until the normalizer
// parses them.
type RawRecord struct {
	Marketplace    string            `json:"marketplace"`
	ExternalID     string            `json:"external_id"`
	Title          string            `json:"title"`
	RawPrice       string            `json:"raw_price"`
	Currency       string            `json:"currency"`
	RawRating      string            `json:"raw_rating"`
	RawReviewCount string            `json:"raw_review_count"`
	URL            string            `json:"url"`
	Extra          map[string]string `json:"extra,omitempty"`
	ScrapedAt      time.Time         `json:"scraped_at"`
}

// RawReview is a single customer review as fetched by an adapter.
type RawReview struct {
	ExternalID string    `json:"external_id"`
	Text       string    `json:"text"`
	RawRating  string    `json:"raw_rating"`
	ObservedAt time.Time `json:"observed_at"`
}

// Product is the canonical, marketplace-independent record all query-side
// components operate on. ID is immutable once assigned; CurrentPrice always
// mirrors the newest entry in the product's price history.
type Product struct {
	ID            string            `json:"id"`
	Marketplace   string            `json:"marketplace"`
	ExternalID    string            `json:"external_id"`
	Title         string            `json:"title"`
	Category      []string          `json:"category"`
	Currency      string            `json:"currency"`
	CurrentPrice  float64           `json:"current_price"`
	Rating        float64           `json:"rating"`
	ReviewCount   int               `json:"review_count"`
	URL           string            `json:"url"`
	LastSeen      time.Time         `json:"last_seen"`
	RawAttributes map[string]string `json:"raw_attributes,omitempty"`
}

// ProductID derives the stable canonical id for a marketplace listing.
func ProductID(marketplace, externalID string) string {
	return marketplace + ":" + externalID
}

// Clone returns a deep copy so store internals never alias caller memory.
func (p *Product) Clone() *Product {
	cp := *p
	cp.Category = append([]string(nil), p.Category...)
	if p.RawAttributes != nil {
		cp.RawAttributes = make(map[string]string, len(p.RawAttributes))
		for k, v := range p.RawAttributes {
			cp.RawAttributes[k] = v
		}
	}
	return &cp
}

// PriceRecord is one immutable price observation. Records for a product are
// append-only and ordered by ObservedAt; corrections are new records.
type PriceRecord struct {
	ProductID  string    `json:"product_id"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// Review is a stored customer review. Read-only once written.
type Review struct {
	ProductID  string    `json:"product_id"`
	Text       string    `json:"text"`
	Rating     float64   `json:"rating"`
	ObservedAt time.Time `json:"observed_at"`
}
