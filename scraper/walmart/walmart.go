// Package walmart implements the marketplace adapter contract against the
// Walmart affiliate product API, which serves listing data as JSON.
package walmart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pricepulse/config"
	"pricepulse/models"
	"pricepulse/utils"
)

const marketplace = "walmart"

// Adapter fetches Walmart listings over plain HTTP.
type Adapter struct {
	cfg     *config.Config
	logger  *utils.Logger
	limiter *utils.RateLimiter
	client  *http.Client
	baseURL string
}

// New creates a ready-to-use Walmart adapter.
func New(cfg *config.Config, logger *utils.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		limiter: utils.NewRateLimiter(time.Duration(cfg.RateLimitMs) * time.Millisecond),
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		},
		baseURL: cfg.WalmartBaseURL,
	}
}

func (a *Adapter) Name() string { return marketplace }

// getJSON performs one rate-limited GET and decodes the response body.
func (a *Adapter) getJSON(ctx context.Context, op, rawURL string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return &models.TransientFetchError{Marketplace: marketplace, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &models.ParseError{Marketplace: marketplace, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.WalmartAPIKey != "" {
		req.Header.Set("WM_SEC.KEY", a.cfg.WalmartAPIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &models.TransientFetchError{Marketplace: marketplace, Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden,
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

type walmartItem struct {
	ItemID         int64   `json:"itemId"`
	Name           string  `json:"name"`
	SalePrice      float64 `json:"salePrice"`
	CategoryPath   string  `json:"categoryPath"`
	CustomerRating string  `json:"customerRating"`
	NumReviews     int     `json:"numReviews"`
	ProductURL     string  `json:"productTrackingUrl"`
	BrandName      string  `json:"brandName"`
}

func (it *walmartItem) toRaw(now time.Time) *models.RawRecord {
	extra := map[string]string{}
	if it.BrandName != "" {
		extra["brand"] = it.BrandName
	}
	if it.CategoryPath != "" {
		extra["category_path"] = it.CategoryPath
	}
	return &models.RawRecord{
		Marketplace:    marketplace,
		ExternalID:     strconv.FormatInt(it.ItemID, 10),
		Title:          it.Name,
		RawPrice:       strconv.FormatFloat(it.SalePrice, 'f', 2, 64),
		Currency:       "USD",
		RawRating:      it.CustomerRating,
		RawReviewCount: strconv.Itoa(it.NumReviews),
		URL:            it.ProductURL,
		Extra:          extra,
		ScrapedAt:      now,
	}
}

// SearchListings fetches one page of the product search endpoint.
func (a *Adapter) SearchListings(ctx context.Context, query string, page int) ([]*models.RawRecord, error) {
	perPage := a.cfg.ListingsPerPage
	searchURL := fmt.Sprintf("%s/search?query=%s&numItems=%d&start=%d",
		a.baseURL, url.QueryEscape(query), perPage, (page-1)*perPage+1)

	var payload struct {
		Items []walmartItem `json:"items"`
	}
	if err := a.getJSON(ctx, fmt.Sprintf("search-page-%d", page), searchURL, &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	records := make([]*models.RawRecord, 0, len(payload.Items))
	for i := range payload.Items {
		if payload.Items[i].ItemID == 0 {
			continue
		}
		records = append(records, payload.Items[i].toRaw(now))
	}
	a.logger.Debug("[walmart] Page %d — extracted %d records", page, len(records))
	return records, nil
}

// FetchProduct fetches a single listing by item id.
func (a *Adapter) FetchProduct(ctx context.Context, externalID string) (*models.RawRecord, error) {
	var item walmartItem
	if err := a.getJSON(ctx, "product-"+externalID,
		a.baseURL+"/items/"+url.PathEscape(externalID), &item); err != nil {
		return nil, err
	}
	if item.ItemID == 0 {
		return nil, &models.ParseError{Marketplace: marketplace,
			Detail: "empty item payload for " + externalID}
	}
	return item.toRaw(time.Now()), nil
}

// FetchReviews fetches the reviews endpoint for an item.
func (a *Adapter) FetchReviews(ctx context.Context, externalID string) ([]*models.RawReview, error) {
	var payload struct {
		Reviews []struct {
			ReviewText    string `json:"reviewText"`
			OverallRating struct {
				Rating string `json:"rating"`
			} `json:"overallRating"`
		} `json:"reviews"`
	}
	if err := a.getJSON(ctx, "reviews-"+externalID,
		a.baseURL+"/reviews/"+url.PathEscape(externalID), &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	reviews := make([]*models.RawReview, 0, len(payload.Reviews))
	for _, r := range payload.Reviews {
		if r.ReviewText == "" {
			continue
		}
		reviews = append(reviews, &models.RawReview{
			ExternalID: externalID,
			Text:       r.ReviewText,
			RawRating:  r.OverallRating.Rating,
			ObservedAt: now,
		})
	}
	return reviews, nil
}
