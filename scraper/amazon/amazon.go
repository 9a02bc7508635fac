// Package amazon implements the marketplace adapter contract against
// Amazon's public listing pages using a headless browser. Amazon renders
// search results client-side and rotates anti-bot challenges, so plain
// HTTP fetches are not reliable here.
package amazon

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"pricepulse/config"
	"pricepulse/models"
	"pricepulse/utils"
)

const (
	baseURL     = "https://www.amazon.com"
	marketplace = "amazon"
)

// Adapter scrapes Amazon listing, detail and review pages.
type Adapter struct {
	cfg     *config.Config
	logger  *utils.Logger
	limiter *utils.RateLimiter

	allocOpts []chromedp.ExecAllocatorOption
}

// New creates a ready-to-use Amazon adapter.
func New(cfg *config.Config, logger *utils.Logger) *Adapter {
	chromeBin := findChromeBinary(cfg.ChromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	return &Adapter{
		cfg:       cfg,
		logger:    logger,
		limiter:   utils.NewRateLimiter(time.Duration(cfg.RateLimitMs) * time.Millisecond),
		allocOpts: opts,
	}
}

func (a *Adapter) Name() string { return marketplace }

// run executes the chromedp actions against a fresh browser tab with the
// adapter's rate limit and the per-request timeout applied.
func (a *Adapter) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return &models.TransientFetchError{Marketplace: marketplace, Op: op, Err: err}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, a.allocOpts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	timeout := time.Duration(a.cfg.RequestTimeoutSec) * time.Second
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	// A timeout, a challenge page or a crashed tab all look the same from
	// here; every failure is worth a backed-off retry.
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return &models.TransientFetchError{Marketplace: marketplace, Op: op, Err: err}
	}
	return nil
}

type searchCard struct {
	ASIN        string `json:"asin"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Rating      string `json:"rating"`
	ReviewCount string `json:"review_count"`
	URL         string `json:"url"`
}

// SearchListings fetches one page of search results for query.
func (a *Adapter) SearchListings(ctx context.Context, query string, page int) ([]*models.RawRecord, error) {
	searchURL := fmt.Sprintf("%s/s?k=%s&page=%d", baseURL, url.QueryEscape(query), page)
	a.logger.Debug("[amazon] Search page %d: %s", page, searchURL)

	var cards []searchCard
	err := a.run(ctx, fmt.Sprintf("search-page-%d", page),
		chromedp.Navigate(searchURL),
		chromedp.Sleep(4*time.Second),
		chromedp.Evaluate(searchCardsJS(a.cfg.ListingsPerPage), &cards),
	)
	if err != nil {
		return nil, err
	}

	if len(cards) == 0 {
		return nil, &models.ParseError{Marketplace: marketplace,
			Detail: fmt.Sprintf("no result cards on search page %d", page)}
	}

	now := time.Now()
	records := make([]*models.RawRecord, 0, len(cards))
	for _, c := range cards {
		if c.ASIN == "" {
			continue
		}
		records = append(records, &models.RawRecord{
			Marketplace:    marketplace,
			ExternalID:     c.ASIN,
			Title:          c.Title,
			RawPrice:       c.Price,
			Currency:       "USD",
			RawRating:      c.Rating,
			RawReviewCount: c.ReviewCount,
			URL:            c.URL,
			ScrapedAt:      now,
		})
	}

	a.logger.Debug("[amazon] Page %d — extracted %d records", page, len(records))
	return records, nil
}

// FetchProduct fetches a single listing by ASIN.
func (a *Adapter) FetchProduct(ctx context.Context, externalID string) (*models.RawRecord, error) {
	detailURL := baseURL + "/dp/" + url.PathEscape(externalID)

	var detail searchCard
	err := a.run(ctx, "product-"+externalID,
		chromedp.Navigate(detailURL),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(productDetailJS, &detail),
	)
	if err != nil {
		return nil, err
	}

	if detail.Title == "" {
		return nil, &models.ParseError{Marketplace: marketplace,
			Detail: "empty product page for " + externalID}
	}

	return &models.RawRecord{
		Marketplace:    marketplace,
		ExternalID:     externalID,
		Title:          detail.Title,
		RawPrice:       detail.Price,
		Currency:       "USD",
		RawRating:      detail.Rating,
		RawReviewCount: detail.ReviewCount,
		URL:            detailURL,
		ScrapedAt:      time.Now(),
	}, nil
}

type reviewData struct {
	Text   string `json:"text"`
	Rating string `json:"rating"`
}

// FetchReviews fetches the first page of customer reviews for an ASIN.
func (a *Adapter) FetchReviews(ctx context.Context, externalID string) ([]*models.RawReview, error) {
	reviewsURL := baseURL + "/product-reviews/" + url.PathEscape(externalID)

	var raw []reviewData
	err := a.run(ctx, "reviews-"+externalID,
		chromedp.Navigate(reviewsURL),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(reviewsJS, &raw),
	)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	reviews := make([]*models.RawReview, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		reviews = append(reviews, &models.RawReview{
			ExternalID: externalID,
			Text:       text,
			RawRating:  r.Rating,
			ObservedAt: now,
		})
	}
	return reviews, nil
}

// searchCardsJS extracts up to limit result cards from a search page.
// Selectors follow Amazon's s-search-result markup; they are best-effort
// and fall back to looser matches when the structure shifts.
func searchCardsJS(limit int) string {
	return fmt.Sprintf(`
		(function() {
			var results = [];
			var limit = %d;
			var cards = document.querySelectorAll('div[data-component-type="s-search-result"]');

			for (var i = 0; i < cards.length && results.length < limit; i++) {
				var card = cards[i];
				var asin = card.getAttribute('data-asin');
				if (!asin) continue;

				var titleEl = card.querySelector('h2 a span') || card.querySelector('h2');
				var title = titleEl ? titleEl.innerText.trim() : '';

				var price = '';
				var priceEl = card.querySelector('span.a-price span.a-offscreen') ||
				              card.querySelector('span.a-price');
				if (priceEl) price = priceEl.innerText.trim();
				if (!price) {
					var whole = card.querySelector('span.a-price-whole');
					var frac = card.querySelector('span.a-price-fraction');
					if (whole) price = '$' + whole.innerText.trim() + (frac ? frac.innerText.trim() : '');
				}

				var rating = '';
				var ratingEl = card.querySelector('span.a-icon-alt');
				if (ratingEl) {
					var m = ratingEl.innerText.match(/([\d.]+) out of/);
					rating = m ? m[1] : '';
				}

				var reviewCount = '';
				var rcEl = card.querySelector('span.a-size-base.s-underline-text') ||
				           card.querySelector('span.a-size-base');
				if (rcEl) reviewCount = rcEl.innerText.trim();

				var linkEl = card.querySelector('a.a-link-normal');
				var url = linkEl ? linkEl.href : '';

				results.push({
					asin: asin,
					title: title,
					price: price,
					rating: rating,
					review_count: reviewCount,
					url: url
				});
			}
			return results;
		})()
	`, limit)
}

const productDetailJS = `
	(function() {
		var result = { asin: '', title: '', price: '', rating: '', review_count: '', url: '' };

		var titleEl = document.querySelector('#productTitle') || document.querySelector('h1');
		if (titleEl) result.title = titleEl.innerText.trim();

		var priceEl = document.querySelector('#corePrice_feature_div span.a-offscreen') ||
		              document.querySelector('span.a-price span.a-offscreen');
		if (priceEl) result.price = priceEl.innerText.trim();

		var ratingEl = document.querySelector('span[data-hook="rating-out-of-text"]') ||
		               document.querySelector('#acrPopover span.a-icon-alt');
		if (ratingEl) {
			var m = ratingEl.innerText.match(/([\d.]+)/);
			result.rating = m ? m[1] : '';
		}

		var rcEl = document.querySelector('#acrCustomerReviewText');
		if (rcEl) result.review_count = rcEl.innerText.trim();

		return result;
	})()
`

const reviewsJS = `
	(function() {
		var results = [];
		var cards = document.querySelectorAll('div[data-hook="review"]');
		for (var i = 0; i < cards.length && results.length < 20; i++) {
			var card = cards[i];
			var bodyEl = card.querySelector('span[data-hook="review-body"]');
			var text = bodyEl ? bodyEl.innerText.trim() : '';

			var rating = '';
			var ratingEl = card.querySelector('i[data-hook="review-star-rating"] span') ||
			               card.querySelector('span.a-icon-alt');
			if (ratingEl) {
				var m = ratingEl.innerText.match(/([\d.]+) out of/);
				rating = m ? m[1] : '';
			}

			if (text) results.push({ text: text, rating: rating });
		}
		return results;
	})()
`

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
