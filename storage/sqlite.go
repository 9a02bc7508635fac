package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pricepulse/models"
	"pricepulse/utils"
)

// SQLiteLedger persists the ledger in an embedded SQLite database. It is
// the default backend for local runs: no external service, still fully
// transactional. The (product update, price append) pair is applied inside
// one transaction.
type SQLiteLedger struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewSQLiteLedger opens (creating if needed) the database at path and runs
// schema migrations.
func NewSQLiteLedger(path string, logger *utils.Logger) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// modernc sqlite serialises writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent ingestion workers.
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id             TEXT PRIMARY KEY,
			marketplace    TEXT NOT NULL,
			external_id    TEXT NOT NULL,
			title          TEXT NOT NULL,
			category       TEXT NOT NULL DEFAULT '',
			currency       TEXT NOT NULL DEFAULT 'USD',
			current_price  REAL NOT NULL DEFAULT 0,
			rating         REAL NOT NULL DEFAULT 0,
			review_count   INTEGER NOT NULL DEFAULT 0,
			url            TEXT NOT NULL DEFAULT '',
			last_seen      TEXT NOT NULL,
			raw_attributes TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS price_history (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id TEXT NOT NULL REFERENCES products(id),
			price      REAL NOT NULL,
			currency   TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			source     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS reviews (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id TEXT NOT NULL,
			text       TEXT NOT NULL,
			rating     REAL NOT NULL DEFAULT 0,
			observed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_products_marketplace ON products(marketplace);
		CREATE INDEX IF NOT EXISTS idx_products_price       ON products(current_price);
		CREATE INDEX IF NOT EXISTS idx_history_product      ON price_history(product_id, observed_at);
		CREATE INDEX IF NOT EXISTS idx_reviews_product      ON reviews(product_id);
	`)
	return err
}

const sqliteUpsert = `
	INSERT INTO products (id, marketplace, external_id, title, category, currency,
		current_price, rating, review_count, url, last_seen, raw_attributes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		title = excluded.title,
		category = excluded.category,
		currency = excluded.currency,
		current_price = excluded.current_price,
		rating = excluded.rating,
		review_count = excluded.review_count,
		url = excluded.url,
		last_seen = excluded.last_seen,
		raw_attributes = excluded.raw_attributes
`

func sqliteProductArgs(p *models.Product) ([]any, error) {
	attrs, err := json.Marshal(p.RawAttributes)
	if err != nil {
		return nil, fmt.Errorf("encode raw attributes: %w", err)
	}
	return []any{
		p.ID, p.Marketplace, p.ExternalID, p.Title,
		strings.Join(p.Category, ","), p.Currency,
		p.CurrentPrice, p.Rating, p.ReviewCount, p.URL,
		p.LastSeen.UTC().Format(time.RFC3339Nano), string(attrs),
	}, nil
}

func (l *SQLiteLedger) UpsertProduct(ctx context.Context, p *models.Product) error {
	args, err := sqliteProductArgs(p)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, sqliteUpsert, args...); err != nil {
		return fmt.Errorf("sqlite: upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (l *SQLiteLedger) AppendPrice(ctx context.Context, rec *models.PriceRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO price_history (product_id, price, currency, observed_at, source)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ProductID, rec.Price, rec.Currency,
		rec.ObservedAt.UTC().Format(time.RFC3339Nano), rec.Source)
	if err != nil {
		return fmt.Errorf("sqlite: append price for %s: %w", rec.ProductID, err)
	}
	return nil
}

func (l *SQLiteLedger) Observe(ctx context.Context, p *models.Product, rec *models.PriceRecord) error {
	args, err := sqliteProductArgs(p)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin observe: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqliteUpsert, args...); err != nil {
		return fmt.Errorf("sqlite: observe upsert %s: %w", p.ID, err)
	}
	if rec != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (product_id, price, currency, observed_at, source)
			VALUES (?, ?, ?, ?, ?)`,
			rec.ProductID, rec.Price, rec.Currency,
			rec.ObservedAt.UTC().Format(time.RFC3339Nano), rec.Source); err != nil {
			return fmt.Errorf("sqlite: observe append %s: %w", p.ID, err)
		}
	}

	// Realign current_price with the newest history entry inside the same
	// transaction, so a late observation cannot leave the product showing a
	// price older than the stream head.
	var (
		price    float64
		currency string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT price, currency FROM price_history
		WHERE product_id = ? ORDER BY observed_at DESC, seq DESC LIMIT 1`, p.ID).
		Scan(&price, &currency)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("sqlite: observe newest price %s: %w", p.ID, err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET current_price = ?, currency = ? WHERE id = ?`,
			price, currency, p.ID); err != nil {
			return fmt.Errorf("sqlite: observe realign %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func scanSQLiteProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	var (
		p        models.Product
		category string
		lastSeen string
		attrs    string
	)
	if err := row.Scan(&p.ID, &p.Marketplace, &p.ExternalID, &p.Title, &category,
		&p.Currency, &p.CurrentPrice, &p.Rating, &p.ReviewCount, &p.URL,
		&lastSeen, &attrs); err != nil {
		return nil, err
	}
	if category != "" {
		p.Category = strings.Split(category, ",")
	}
	if t, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
		p.LastSeen = t
	}
	if attrs != "" && attrs != "{}" && attrs != "null" {
		_ = json.Unmarshal([]byte(attrs), &p.RawAttributes)
	}
	return &p, nil
}

const sqliteProductCols = `id, marketplace, external_id, title, category, currency,
	current_price, rating, review_count, url, last_seen, raw_attributes`

func (l *SQLiteLedger) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+sqliteProductCols+` FROM products WHERE id = ?`, id)
	p, err := scanSQLiteProduct(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{ProductID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get product %s: %w", id, err)
	}
	return p, nil
}

func (l *SQLiteLedger) PriceHistory(ctx context.Context, id string, since time.Time) ([]*models.PriceRecord, error) {
	if _, err := l.GetProduct(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT product_id, price, currency, observed_at, source
		FROM price_history WHERE product_id = ?`
	args := []any{id}
	if !since.IsZero() {
		query += ` AND observed_at >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY observed_at, seq`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: price history %s: %w", id, err)
	}
	defer rows.Close()

	var out []*models.PriceRecord
	for rows.Next() {
		var (
			rec      models.PriceRecord
			observed string
		)
		if err := rows.Scan(&rec.ProductID, &rec.Price, &rec.Currency, &observed, &rec.Source); err != nil {
			return nil, fmt.Errorf("sqlite: scan price record: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, observed); perr == nil {
			rec.ObservedAt = t
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) QueryProducts(ctx context.Context, f Filter) ([]*models.Product, error) {
	// Filtering, sorting and pagination happen in Go over the full scan.
	// Dataset sizes here are ingestion-run scale, not warehouse scale, and
	// it keeps LIKE-escaping subtleties out of the SQL path.
	rows, err := l.db.QueryContext(ctx, `SELECT `+sqliteProductCols+` FROM products`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query products: %w", err)
	}
	defer rows.Close()

	var all []*models.Product
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan product: %w", err)
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ApplyFilter(all, f), nil
}

func (l *SQLiteLedger) SaveReviews(ctx context.Context, reviews []*models.Review) error {
	if len(reviews) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save reviews: %w", err)
	}
	defer tx.Rollback()

	for _, r := range reviews {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (product_id, text, rating, observed_at)
			VALUES (?, ?, ?, ?)`,
			r.ProductID, r.Text, r.Rating, r.ObservedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("sqlite: insert review: %w", err)
		}
	}
	return tx.Commit()
}

func (l *SQLiteLedger) Reviews(ctx context.Context, productID string) ([]*models.Review, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT product_id, text, rating, observed_at
		FROM reviews WHERE product_id = ? ORDER BY observed_at, seq`, productID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reviews %s: %w", productID, err)
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		var (
			r        models.Review
			observed string
		)
		if err := rows.Scan(&r.ProductID, &r.Text, &r.Rating, &observed); err != nil {
			return nil, fmt.Errorf("sqlite: scan review: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, observed); perr == nil {
			r.ObservedAt = t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
