package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pricepulse/models"
)

// MemoryLedger is an in-memory Ledger backend. Each product entry carries
// its own lock, so the (update, append) pair is atomic per product while
// writes to different products proceed in parallel. Used by tests and as a
// throwaway backend for dry runs.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	mu      sync.Mutex
	product *models.Product
	prices  []*models.PriceRecord
	reviews []*models.Review
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*memEntry)}
}

func (m *MemoryLedger) entry(id string, create bool) *memEntry {
	m.mu.RLock()
	e := m.entries[id]
	m.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e = m.entries[id]; e == nil {
		e = &memEntry{}
		m.entries[id] = e
	}
	return e
}

func (m *MemoryLedger) UpsertProduct(_ context.Context, p *models.Product) error {
	e := m.entry(p.ID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.product = p.Clone()
	return nil
}

func (m *MemoryLedger) AppendPrice(_ context.Context, rec *models.PriceRecord) error {
	e := m.entry(rec.ProductID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendPriceLocked(rec)
	return nil
}

// appendPriceLocked keeps the stream ordered by ObservedAt even if a late
// observation arrives out of order.
func (e *memEntry) appendPriceLocked(rec *models.PriceRecord) {
	cp := *rec
	e.prices = append(e.prices, &cp)
	for i := len(e.prices) - 1; i > 0 && e.prices[i].ObservedAt.Before(e.prices[i-1].ObservedAt); i-- {
		e.prices[i], e.prices[i-1] = e.prices[i-1], e.prices[i]
	}
}

func (m *MemoryLedger) Observe(_ context.Context, p *models.Product, rec *models.PriceRecord) error {
	e := m.entry(p.ID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.product = p.Clone()
	if rec != nil {
		e.appendPriceLocked(rec)
	}
	// A late observation may have landed behind the stream head; the
	// current price always tracks the newest history entry, not the
	// committing writer.
	if last := len(e.prices) - 1; last >= 0 {
		e.product.CurrentPrice = e.prices[last].Price
		e.product.Currency = e.prices[last].Currency
	}
	return nil
}

func (m *MemoryLedger) GetProduct(_ context.Context, id string) (*models.Product, error) {
	e := m.entry(id, false)
	if e == nil {
		return nil, &models.NotFoundError{ProductID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.product == nil {
		return nil, &models.NotFoundError{ProductID: id}
	}
	return e.product.Clone(), nil
}

func (m *MemoryLedger) PriceHistory(_ context.Context, id string, since time.Time) ([]*models.PriceRecord, error) {
	e := m.entry(id, false)
	if e == nil {
		return nil, &models.NotFoundError{ProductID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.PriceRecord, 0, len(e.prices))
	for _, rec := range e.prices {
		if !since.IsZero() && rec.ObservedAt.Before(since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryLedger) QueryProducts(_ context.Context, f Filter) ([]*models.Product, error) {
	m.mu.RLock()
	all := make([]*models.Product, 0, len(m.entries))
	for _, e := range m.entries {
		e.mu.Lock()
		if e.product != nil {
			all = append(all, e.product.Clone())
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	return ApplyFilter(all, f), nil
}

func (m *MemoryLedger) SaveReviews(_ context.Context, reviews []*models.Review) error {
	for _, r := range reviews {
		e := m.entry(r.ProductID, true)
		cp := *r
		e.mu.Lock()
		e.reviews = append(e.reviews, &cp)
		e.mu.Unlock()
	}
	return nil
}

func (m *MemoryLedger) Reviews(_ context.Context, productID string) ([]*models.Review, error) {
	e := m.entry(productID, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Review, 0, len(e.reviews))
	for _, r := range e.reviews {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

func (m *MemoryLedger) Close() error { return nil }

// ApplyFilter narrows, sorts and paginates a product slice in memory.
// Shared by the memory backend and by tests asserting filter semantics.
func ApplyFilter(products []*models.Product, f Filter) []*models.Product {
	out := products[:0:0]
	q := strings.ToLower(strings.TrimSpace(f.Query))
	for _, p := range products {
		if q != "" && !matchesQuery(p, q) {
			continue
		}
		if f.Marketplace != "" && p.Marketplace != f.Marketplace {
			continue
		}
		if f.Category != "" && !hasCategory(p, f.Category) {
			continue
		}
		if f.Brand != "" && !strings.EqualFold(p.RawAttributes["brand"], f.Brand) {
			continue
		}
		if f.MinPrice > 0 && p.CurrentPrice < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && p.CurrentPrice > f.MaxPrice {
			continue
		}
		if f.MinRating > 0 && p.Rating < f.MinRating {
			continue
		}
		out = append(out, p)
	}

	switch f.SortBy {
	case "price_asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].CurrentPrice < out[j].CurrentPrice })
	case "price_desc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].CurrentPrice > out[j].CurrentPrice })
	case "rating":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	case "newest":
		sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matchesQuery(p *models.Product, q string) bool {
	if strings.Contains(strings.ToLower(p.Title), q) {
		return true
	}
	for _, c := range p.Category {
		if strings.Contains(strings.ToLower(c), q) {
			return true
		}
	}
	return false
}

func hasCategory(p *models.Product, category string) bool {
	for _, c := range p.Category {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}
