package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"pricepulse/models"
	"pricepulse/utils"
)

// PostgresLedger persists the ledger in PostgreSQL for multi-process
// deployments. The (product update, price append) pair runs in one
// transaction; row-level locking keeps writers for different products
// independent.
type PostgresLedger struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresLedger opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use ledger.
func NewPostgresLedger(dsn string, logger *utils.Logger) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	l := &PostgresLedger{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return l, nil
}

func (l *PostgresLedger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id             TEXT PRIMARY KEY,
			marketplace    VARCHAR(50)   NOT NULL,
			external_id    TEXT          NOT NULL,
			title          TEXT          NOT NULL,
			category       TEXT          NOT NULL DEFAULT '',
			currency       VARCHAR(8)    NOT NULL DEFAULT 'USD',
			current_price  NUMERIC(12,2) NOT NULL DEFAULT 0,
			rating         NUMERIC(4,2)  NOT NULL DEFAULT 0,
			review_count   INTEGER       NOT NULL DEFAULT 0,
			url            TEXT          NOT NULL DEFAULT '',
			last_seen      TIMESTAMPTZ   NOT NULL,
			raw_attributes TEXT          NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS price_history (
			seq        BIGSERIAL PRIMARY KEY,
			product_id TEXT        NOT NULL REFERENCES products(id),
			price      NUMERIC(12,2) NOT NULL,
			currency   VARCHAR(8)  NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			source     TEXT        NOT NULL
		);

		CREATE TABLE IF NOT EXISTS reviews (
			seq        BIGSERIAL PRIMARY KEY,
			product_id TEXT        NOT NULL,
			text       TEXT        NOT NULL,
			rating     NUMERIC(4,2) NOT NULL DEFAULT 0,
			observed_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_products_marketplace ON products(marketplace);
		CREATE INDEX IF NOT EXISTS idx_products_price       ON products(current_price);
		CREATE INDEX IF NOT EXISTS idx_history_product      ON price_history(product_id, observed_at);
		CREATE INDEX IF NOT EXISTS idx_reviews_product      ON reviews(product_id);
	`)
	return err
}

const pgUpsert = `
	INSERT INTO products (id, marketplace, external_id, title, category, currency,
		current_price, rating, review_count, url, last_seen, raw_attributes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		category = EXCLUDED.category,
		currency = EXCLUDED.currency,
		current_price = EXCLUDED.current_price,
		rating = EXCLUDED.rating,
		review_count = EXCLUDED.review_count,
		url = EXCLUDED.url,
		last_seen = EXCLUDED.last_seen,
		raw_attributes = EXCLUDED.raw_attributes
`

func pgProductArgs(p *models.Product) ([]any, error) {
	attrs, err := json.Marshal(p.RawAttributes)
	if err != nil {
		return nil, fmt.Errorf("encode raw attributes: %w", err)
	}
	return []any{
		p.ID, p.Marketplace, p.ExternalID, p.Title,
		strings.Join(p.Category, ","), p.Currency,
		p.CurrentPrice, p.Rating, p.ReviewCount, p.URL,
		p.LastSeen.UTC(), string(attrs),
	}, nil
}

func (l *PostgresLedger) UpsertProduct(ctx context.Context, p *models.Product) error {
	args, err := pgProductArgs(p)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, pgUpsert, args...); err != nil {
		return fmt.Errorf("postgres: upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (l *PostgresLedger) AppendPrice(ctx context.Context, rec *models.PriceRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO price_history (product_id, price, currency, observed_at, source)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ProductID, rec.Price, rec.Currency, rec.ObservedAt.UTC(), rec.Source)
	if err != nil {
		return fmt.Errorf("postgres: append price for %s: %w", rec.ProductID, err)
	}
	return nil
}

func (l *PostgresLedger) Observe(ctx context.Context, p *models.Product, rec *models.PriceRecord) error {
	args, err := pgProductArgs(p)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin observe: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, pgUpsert, args...); err != nil {
		return fmt.Errorf("postgres: observe upsert %s: %w", p.ID, err)
	}
	if rec != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (product_id, price, currency, observed_at, source)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.ProductID, rec.Price, rec.Currency, rec.ObservedAt.UTC(), rec.Source); err != nil {
			return fmt.Errorf("postgres: observe append %s: %w", p.ID, err)
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
		WHERE product_id = $1 ORDER BY observed_at DESC, seq DESC LIMIT 1`, p.ID).
		Scan(&price, &currency)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("postgres: observe newest price %s: %w", p.ID, err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET current_price = $1, currency = $2 WHERE id = $3`,
			price, currency, p.ID); err != nil {
			return fmt.Errorf("postgres: observe realign %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

const pgProductCols = `id, marketplace, external_id, title, category, currency,
	current_price, rating, review_count, url, last_seen, raw_attributes`

func scanPgProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	var (
		p        models.Product
		category string
		attrs    string
	)
	if err := row.Scan(&p.ID, &p.Marketplace, &p.ExternalID, &p.Title, &category,
		&p.Currency, &p.CurrentPrice, &p.Rating, &p.ReviewCount, &p.URL,
		&p.LastSeen, &attrs); err != nil {
		return nil, err
	}
	if category != "" {
		p.Category = strings.Split(category, ",")
	}
	if attrs != "" && attrs != "{}" && attrs != "null" {
		_ = json.Unmarshal([]byte(attrs), &p.RawAttributes)
	}
	return &p, nil
}

func (l *PostgresLedger) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+pgProductCols+` FROM products WHERE id = $1`, id)
	p, err := scanPgProduct(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{ProductID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get product %s: %w", id, err)
	}
	return p, nil
}

func (l *PostgresLedger) PriceHistory(ctx context.Context, id string, since time.Time) ([]*models.PriceRecord, error) {
	if _, err := l.GetProduct(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT product_id, price, currency, observed_at, source
		FROM price_history WHERE product_id = $1`
	args := []any{id}
	if !since.IsZero() {
		query += ` AND observed_at >= $2`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY observed_at, seq`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: price history %s: %w", id, err)
	}
	defer rows.Close()

	var out []*models.PriceRecord
	for rows.Next() {
		var rec models.PriceRecord
		if err := rows.Scan(&rec.ProductID, &rec.Price, &rec.Currency, &rec.ObservedAt, &rec.Source); err != nil {
			return nil, fmt.Errorf("postgres: scan price record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) QueryProducts(ctx context.Context, f Filter) ([]*models.Product, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+pgProductCols+` FROM products`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query products: %w", err)
	}
	defer rows.Close()

	var all []*models.Product
	for rows.Next() {
		p, err := scanPgProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ApplyFilter(all, f), nil
}

func (l *PostgresLedger) SaveReviews(ctx context.Context, reviews []*models.Review) error {
	if len(reviews) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(reviews))
	valueArgs := make([]any, 0, len(reviews)*4)
	for idx, r := range reviews {
		base := idx * 4
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, r.ProductID, r.Text, r.Rating, r.ObservedAt.UTC())
	}

	query := fmt.Sprintf(`
		INSERT INTO reviews (product_id, text, rating, observed_at)
		VALUES %s`, strings.Join(valueStrings, ","))

	if _, err := l.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert reviews: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Reviews(ctx context.Context, productID string) ([]*models.Review, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT product_id, text, rating, observed_at
		FROM reviews WHERE product_id = $1 ORDER BY observed_at, seq`, productID)
	if err != nil {
		return nil, fmt.Errorf("postgres: reviews %s: %w", productID, err)
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ProductID, &r.Text, &r.Rating, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan review: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
