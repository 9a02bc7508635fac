// Package ebay implements the marketplace adapter contract against the
// eBay Browse API. eBay exposes no public review feed, so FetchReviews
// returns an empty set; the rest of the pipeline treats that the same as a
// product nobody has reviewed yet.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"pricepulse/config"
	"pricepulse/models"
	"pricepulse/utils"
)

const marketplace = "ebay"

// Adapter fetches eBay listings over the Browse API.
type Adapter struct {
	cfg     *config.Config
	logger  *utils.Logger
	limiter *utils.RateLimiter
	client  *http.Client
	baseURL string
}

// New creates a ready-to-use eBay adapter.
func New(cfg *config.Config, logger *utils.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		limiter: utils.NewRateLimiter(time.Duration(cfg.RateLimitMs) * time.Millisecond),
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		},
		baseURL: cfg.EbayBaseURL,
	}
}

func (a *Adapter) Name() string { return marketplace }

func (a *Adapter) getJSON(ctx context.Context, op, rawURL string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return &models.TransientFetchError{Marketplace: marketplace, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &models.ParseError{Marketplace: marketplace, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.EbayToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.EbayToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &models.TransientFetchError{Marketplace: marketplace, Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode >= 500:
		return &models.TransientFetchError{Marketplace: marketplace, Op: op,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return &models.ParseError{Marketplace: marketplace,
			Detail: fmt.Sprintf("%s: unexpected status %d", op, resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ParseError{Marketplace: marketplace, Detail: op + ": decode body", Err: err}
	}
	return nil
}

type ebayItem struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
	Price  struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	ItemWebURL string `json:"itemWebUrl"`
	Condition  string `json:"condition"`
	Categories []struct {
		CategoryName string `json:"categoryName"`
	} `json:"categories"`
}

func (it *ebayItem) toRaw(now time.Time) *models.RawRecord {
	currency := it.Price.Currency
	if currency == "" {
		currency = "USD"
	}
	extra := map[string]string{}
	if it.Condition != "" {
		extra["condition"] = it.Condition
	}
	if len(it.Categories) > 0 {
		extra["category_path"] = it.Categories[0].CategoryName
	}
	return &models.RawRecord{
		Marketplace: marketplace,
		ExternalID:  it.ItemID,
		Title:       it.Title,
		RawPrice:    it.Price.Value,
		Currency:    currency,
		URL:         it.ItemWebURL,
		Extra:       extra,
		ScrapedAt:   now,
	}
}

// SearchListings fetches one page of item summaries for query.
func (a *Adapter) SearchListings(ctx context.Context, query string, page int) ([]*models.RawRecord, error) {
	perPage := a.cfg.ListingsPerPage
	searchURL := fmt.Sprintf("%s/item_summary/search?q=%s&limit=%d&offset=%d",
		a.baseURL, url.QueryEscape(query), perPage, (page-1)*perPage)

	var payload struct {
		ItemSummaries []ebayItem `json:"itemSummaries"`
	}
	if err := a.getJSON(ctx, fmt.Sprintf("search-page-%d", page), searchURL, &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	records := make([]*models.RawRecord, 0, len(payload.ItemSummaries))
	for i := range payload.ItemSummaries {
		if payload.ItemSummaries[i].ItemID == "" {
			continue
		}
		records = append(records, payload.ItemSummaries[i].toRaw(now))
	}
	a.logger.Debug("[ebay] Page %d — extracted %d records", page, len(records))
	return records, nil
}

// FetchProduct fetches a single listing by item id.
func (a *Adapter) FetchProduct(ctx context.Context, externalID string) (*models.RawRecord, error) {
	var item ebayItem
	if err := a.getJSON(ctx, "product-"+externalID,
		a.baseURL+"/item/"+url.PathEscape(externalID), &item); err != nil {
		return nil, err
	}
	if item.ItemID == "" {
		return nil, &models.ParseError{Marketplace: marketplace,
			Detail: "empty item payload for " + externalID}
	}
	return item.toRaw(time.Now()), nil
}

// FetchReviews returns no reviews; the Browse API does not expose them.
func (a *Adapter) FetchReviews(_ context.Context, _ string) ([]*models.RawReview, error) {
	return nil, nil
}
