package storage

import (
	"context"
	"fmt"
	"time"

	"pricepulse/config"
	"pricepulse/models"
	"pricepulse/utils"
)

// Filter narrows QueryProducts results. Zero values mean "no constraint".
type Filter struct {
	Query       string
	Marketplace string
	Category    string
	Brand       string // matched against RawAttributes["brand"]
	MinPrice    float64
	MaxPrice    float64
	MinRating   float64
	SortBy      string // relevance | price_asc | price_desc | rating | newest
	Limit       int
	Offset      int
}

// Ledger is the single mutable shared resource of the pipeline: current
// product state plus an append-only price-history stream per product.
//
// Observe applies a product update and an optional price append as one
// atomic unit, so a reader never sees a product whose CurrentPrice differs
// from the newest entry of its own history. Writes to different product ids
// are independent and may proceed in parallel.
type Ledger interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
	AppendPrice(ctx context.Context, rec *models.PriceRecord) error
	Observe(ctx context.Context, p *models.Product, rec *models.PriceRecord) error

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	PriceHistory(ctx context.Context, id string, since time.Time) ([]*models.PriceRecord, error)
	QueryProducts(ctx context.Context, f Filter) ([]*models.Product, error)

	SaveReviews(ctx context.Context, reviews []*models.Review) error
	Reviews(ctx context.Context, productID string) ([]*models.Review, error)

	Close() error
}

// Open creates the ledger backend selected by STORAGE_DRIVER.
func Open(cfg *config.Config, logger *utils.Logger) (Ledger, error) {
	switch cfg.StorageDriver {
	case "sqlite":
		return NewSQLiteLedger(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresLedger(cfg.DSN(), logger)
	case "memory":
		return NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
}
