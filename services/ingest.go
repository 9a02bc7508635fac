package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricepulse/config"
	"pricepulse/models"
	"pricepulse/scraper"
	"pricepulse/storage"
	"pricepulse/utils"
)

// IngestRunner drives one ingestion run: fetch listings from every
// registered marketplace, normalize them and land the results in the
// ledger. Workers run one per marketplace; each worker is sequential with
// rate-limit and backoff suspension points.
//
// Individual item failures are recovered locally and reported in the run
// summary; they never abort the run. Cancelling the context stops new
// fetches while letting writes already in flight land — the ledger's
// atomic pair guarantees no half-written product/price ever appears.
type IngestRunner struct {
	registry *scraper.Registry
	ledger   storage.Ledger
	norm     *Normalizer
	cfg      *config.Config
	logger   *utils.Logger
	audit    *storage.CSVAudit
}

// NewIngestRunner creates a runner. audit may be nil.
func NewIngestRunner(registry *scraper.Registry, ledger storage.Ledger, norm *Normalizer,
	cfg *config.Config, logger *utils.Logger, audit *storage.CSVAudit) *IngestRunner {
	return &IngestRunner{
		registry: registry,
		ledger:   ledger,
		norm:     norm,
		cfg:      cfg,
		logger:   logger,
		audit:    audit,
	}
}

// Run executes one ingestion run for the given search query across all
// registered marketplaces and returns the partial-success report.
func (r *IngestRunner) Run(ctx context.Context, query string) *models.IngestReport {
	report := &models.IngestReport{
		RunID:     uuid.NewString(),
		Query:     query,
		StartedAt: time.Now(),
	}
	r.logger.Info("[ingest] Run %s starting — query %q, marketplaces: %v",
		report.RunID, query, r.registry.Names())

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = utils.NewSeenSet()
	)

	for _, name := range r.registry.Names() {
		adapter, _ := r.registry.Get(name)
		wg.Add(1)
		go func(a scraper.Adapter) {
			defer wg.Done()
			r.runMarketplace(ctx, a, query, report.RunID, seen, &mu, report)
		}(adapter)
	}
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	report.Cancelled = ctx.Err() != nil
	r.logger.Info("[ingest] Run %s done in %v — %d succeeded, %d failed",
		report.RunID, report.Duration.Round(time.Millisecond),
		len(report.Succeeded), len(report.Failed))
	return report
}

// Refresh re-fetches a single listing and lands the fresh observation in
// the ledger, outside any search run.
func (r *IngestRunner) Refresh(ctx context.Context, marketplace, externalID string) (*models.Product, error) {
	adapter, ok := r.registry.Get(marketplace)
	if !ok {
		return nil, &models.NotFoundError{ProductID: models.ProductID(marketplace, externalID)}
	}

	var raw *models.RawRecord
	err := r.newRetry().Do(ctx, marketplace+"-refresh-"+externalID, func() error {
		var ferr error
		raw, ferr = adapter.FetchProduct(ctx, externalID)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	incoming, err := r.norm.Normalize(raw)
	if err != nil {
		return nil, err
	}

	writeCtx := context.WithoutCancel(ctx)
	existing, err := r.ledger.GetProduct(writeCtx, incoming.ID)
	if err != nil && !models.IsNotFound(err) {
		return nil, err
	}

	merged, rec := r.norm.Reconcile(existing, incoming, "refresh", time.Now())
	if err := r.ledger.Observe(writeCtx, merged, rec); err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *IngestRunner) runMarketplace(ctx context.Context, adapter scraper.Adapter,
	query, runID string, seen *utils.SeenSet, mu *sync.Mutex, report *models.IngestReport) {

	name := adapter.Name()
	retry := r.newRetry()

	// Review fetches fan out behind the listing loop, bounded so one
	// review-heavy page cannot monopolise the marketplace's rate budget.
	workers := r.cfg.MaxConcurrency
	if workers < 1 {
		workers = 1
	}
	reviewPool := utils.NewWorkerPool(workers, 0)
	defer reviewPool.Wait()

	for page := 1; page <= r.cfg.PagesToFetch; page++ {
		if ctx.Err() != nil {
			r.logger.Warn("[ingest] %s: cancelled before page %d", name, page)
			return
		}

		var records []*models.RawRecord
		err := retry.Do(ctx, name+"-page-"+strconv.Itoa(page), func() error {
			var ferr error
			records, ferr = adapter.SearchListings(ctx, query, page)
			return ferr
		})
		if err != nil {
			r.logger.Error("[ingest] %s: page %d failed: %v", name, page, err)
			mu.Lock()
			report.Failed = append(report.Failed, models.IngestFailure{
				Marketplace: name,
				Item:        "page " + strconv.Itoa(page),
				Err:         err.Error(),
			})
			mu.Unlock()
			continue
		}

		if r.audit != nil {
			if werr := r.audit.WriteRaw(records); werr != nil {
				r.logger.Warn("[ingest] %s: raw audit write failed: %v", name, werr)
			}
		}

		for _, raw := range records {
			if ctx.Err() != nil {
				r.logger.Warn("[ingest] %s: cancelled mid-page %d", name, page)
				return
			}
			if !seen.Add(models.ProductID(raw.Marketplace, raw.ExternalID)) {
				r.logger.Debug("[ingest] %s: duplicate %s skipped", name, raw.ExternalID)
				continue
			}
			r.ingestItem(ctx, adapter, raw, runID, reviewPool, mu, report)
		}
	}
}

// ingestItem lands a single raw record: normalize, reconcile against
// stored state, write the atomic (product, price) pair, then pull reviews.
func (r *IngestRunner) ingestItem(ctx context.Context, adapter scraper.Adapter,
	raw *models.RawRecord, runID string, reviewPool *utils.WorkerPool,
	mu *sync.Mutex, report *models.IngestReport) {

	name := adapter.Name()
	fail := func(item string, err error) {
		mu.Lock()
		report.Failed = append(report.Failed, models.IngestFailure{
			Marketplace: name, Item: item, Err: err.Error(),
		})
		mu.Unlock()
	}

	incoming, err := r.norm.Normalize(raw)
	if err != nil {
		r.logger.Warn("[ingest] %s: dropping %q: %v", name, raw.ExternalID, err)
		fail(raw.ExternalID, err)
		return
	}

	// A cancel between fetch and write must not tear the pair apart, so
	// the write itself runs to completion (or a clean tx abort).
	writeCtx := context.WithoutCancel(ctx)

	existing, err := r.ledger.GetProduct(writeCtx, incoming.ID)
	if err != nil && !models.IsNotFound(err) {
		fail(incoming.ID, err)
		return
	}

	merged, rec := r.norm.Reconcile(existing, incoming, runID, time.Now())
	if err := r.ledger.Observe(writeCtx, merged, rec); err != nil {
		r.logger.Error("[ingest] %s: ledger write for %s failed: %v", name, merged.ID, err)
		fail(merged.ID, err)
		return
	}

	if r.cfg.FetchReviews && ctx.Err() == nil {
		productID, externalID := merged.ID, raw.ExternalID
		reviewPool.Submit(func() {
			r.fetchReviews(ctx, adapter, productID, externalID)
		})
	}

	mu.Lock()
	report.Succeeded = append(report.Succeeded, merged.ID)
	mu.Unlock()
}

// fetchReviews pulls and stores reviews for one product. Review failures
// are logged, not counted against the item: the listing itself landed.
func (r *IngestRunner) fetchReviews(ctx context.Context, adapter scraper.Adapter, productID, externalID string) {
	retry := r.newRetry()

	var rawReviews []*models.RawReview
	err := retry.Do(ctx, adapter.Name()+"-reviews-"+externalID, func() error {
		var ferr error
		rawReviews, ferr = adapter.FetchReviews(ctx, externalID)
		return ferr
	})
	if err != nil {
		r.logger.Warn("[ingest] %s: reviews for %s failed: %v", adapter.Name(), externalID, err)
		return
	}
	if len(rawReviews) == 0 {
		return
	}

	reviews := make([]*models.Review, 0, len(rawReviews))
	for _, rv := range rawReviews {
		reviews = append(reviews, &models.Review{
			ProductID:  productID,
			Text:       rv.Text,
			Rating:     parseRating(rv.RawRating),
			ObservedAt: rv.ObservedAt,
		})
	}
	if err := r.ledger.SaveReviews(context.WithoutCancel(ctx), reviews); err != nil {
		r.logger.Warn("[ingest] %s: saving reviews for %s failed: %v", adapter.Name(), productID, err)
	}
}

func (r *IngestRunner) newRetry() *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts: r.cfg.MaxRetries,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.4,
		Logger:      r.logger,
		RetryIf:     models.IsTransient,
	}
}
