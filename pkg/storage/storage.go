package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/farmasearch/farmasearch/pkg/prices"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type DB struct {
	sql    *sql.DB
	driver string
}

// Open connects to the database and creates the schema if needed. For
// sqlite the dsn is a file path; for pgx it is a PostgreSQL connection
// string.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverPostgres, "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	// Ensure schema exists for convenience.
	for _, stmt := range schema(driver) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &DB{sql: db, driver: driver}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Driver returns the database/sql driver name in use.
func (d *DB) Driver() string {
	return d.driver
}

func schema(driver string) []string {
	id, ts := "INTEGER PRIMARY KEY", "DATETIME"
	if driver == DriverPostgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS products (
  id         ` + id + `,
  name       TEXT NOT NULL,
  url        TEXT NOT NULL,
  vendor     TEXT NOT NULL,
  category   TEXT NOT NULL DEFAULT '',
  ean        TEXT NOT NULL DEFAULT '',
  created_at ` + ts + ` NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(vendor, url)
)`,
		`CREATE INDEX IF NOT EXISTS idx_products_ean ON products(ean)`,
		`CREATE TABLE IF NOT EXISTS prices (
  id             ` + id + `,
  product_id     BIGINT NOT NULL REFERENCES products(id),
  price          DECIMAL(10,2) NOT NULL,
  original_price DECIMAL(10,2),
  in_stock       BOOLEAN,
  captured_at    ` + ts + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_latest ON prices(product_id, captured_at, id)`,
		`CREATE TABLE IF NOT EXISTS consolidated_products (
  run_id       TEXT NOT NULL,
  match_key    TEXT NOT NULL PRIMARY KEY,
  name         TEXT NOT NULL,
  ean          TEXT NOT NULL DEFAULT '',
  price_min    DECIMAL(10,2),
  price_max    DECIMAL(10,2),
  savings      DECIMAL(10,2) NOT NULL,
  ean_conflict BOOLEAN NOT NULL,
  created_at   ` + ts + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE TABLE IF NOT EXISTS consolidated_offers (
  run_id    TEXT NOT NULL,
  match_key TEXT NOT NULL,
  vendor    TEXT NOT NULL,
  price     DECIMAL(10,2),
  in_stock  BOOLEAN NOT NULL,
  url       TEXT NOT NULL DEFAULT '',
  PRIMARY KEY(match_key, vendor)
)`,
	}
}

// SaveObservations stores a batch in one transaction: the product is
// upserted by (vendor, url) and a price row is appended. Observations
// without a price, URL or vendor are skipped.
func (d *DB) SaveObservations(ctx context.Context, obs []prices.Observation) (ImportResult, error) {
	var res ImportResult
	now := time.Now().UTC()

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, o := range obs {
		url := NormalizeProductURL(o.URL)
		vendor := strings.TrimSpace(o.Vendor)
		if !o.HasPrice() || url == "" || vendor == "" {
			res.Skipped++
			continue
		}

		var productID int64
		err = tx.QueryRowContext(ctx, `INSERT INTO products(vendor, url, name, category, ean)
VALUES($1, $2, $3, $4, $5)
ON CONFLICT(vendor, url) DO UPDATE SET
  name = excluded.name,
  category = CASE WHEN excluded.category = '' THEN products.category ELSE excluded.category END,
  ean = CASE WHEN excluded.ean = '' THEN products.ean ELSE excluded.ean END
RETURNING id`, vendor, url, strings.TrimSpace(o.Name), o.Category, strings.TrimSpace(o.EAN)).Scan(&productID)
		if err != nil {
			return res, fmt.Errorf("upserting product %s: %w", url, err)
		}

		captured := o.CapturedAt
		if captured.IsZero() {
			captured = now
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO prices(product_id, price, original_price, in_stock, captured_at) VALUES($1, $2, $3, $4, $5)`,
			productID, o.Price.Decimal.StringFixed(2), nullDecimal(o.OriginalPrice), o.InStock, captured.UTC())
		if err != nil {
			return res, fmt.Errorf("inserting price for %s: %w", url, err)
		}
		res.Saved++
	}

	if err = tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// CountLatest returns the number of products with at least one price.
func (d *DB) CountLatest(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM products p WHERE EXISTS (SELECT 1 FROM prices pr WHERE pr.product_id = p.id)`).Scan(&n)
	return n, err
}

// LatestPage returns the most recent observation of each product, ordered
// by product id. A stored price that does not parse comes back invalid.
func (d *DB) LatestPage(ctx context.Context, limit, offset int) ([]prices.Observation, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT p.id, p.vendor, p.name, p.url, p.ean, p.category,
       pr.price, pr.original_price, pr.in_stock, pr.captured_at
FROM products p
JOIN prices pr ON pr.id = (
  SELECT id FROM prices
  WHERE product_id = p.id
  ORDER BY captured_at DESC, id DESC
  LIMIT 1
)
ORDER BY p.id
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]prices.Observation, 0, limit)
	for rows.Next() {
		var (
			o               prices.Observation
			price, original interface{}
			inStock         sql.NullBool
			captured        interface{}
		)
		if err := rows.Scan(&o.ProductID, &o.Vendor, &o.Name, &o.URL, &o.EAN, &o.Category, &price, &original, &inStock, &captured); err != nil {
			return nil, err
		}
		o.Price = storedPrice(price)
		o.OriginalPrice = storedPrice(original)
		o.InStock = inStock.Valid && inStock.Bool
		o.CapturedAt = parseTimestamp(captured)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStats returns per vendor counters.
func (d *DB) GetStats(ctx context.Context) ([]VendorStats, error) {
	query := `
		SELECT
			p.vendor,
			COUNT(DISTINCT p.id),
			COUNT(DISTINCT CASE WHEN p.ean <> '' THEN p.id END),
			COUNT(pr.id),
			MAX(pr.captured_at)
		FROM
			products p
			LEFT JOIN prices pr ON pr.product_id = p.id
		GROUP BY
			p.vendor
		ORDER BY
			p.vendor;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []VendorStats
	for rows.Next() {
		var s VendorStats
		var last interface{}
		if err := rows.Scan(&s.Vendor, &s.ProductCount, &s.WithEAN, &s.PriceCount, &last); err != nil {
			return nil, err
		}
		s.LastCapture = parseTimestamp(last)
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// SaveConsolidation replaces the persisted consolidation with res.
func (d *DB) SaveConsolidation(ctx context.Context, runID string, res consolidate.Result) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM consolidated_offers`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM consolidated_products`); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, r := range res.Rows {
		_, err = tx.ExecContext(ctx, `INSERT INTO consolidated_products(run_id, match_key, name, ean, price_min, price_max, savings, ean_conflict, created_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			runID, r.MatchKey, r.Name, r.EAN, nullDecimal(r.PriceMin), nullDecimal(r.PriceMax), r.Savings.StringFixed(2), r.EANConflict, now)
		if err != nil {
			return fmt.Errorf("saving %s: %w", r.MatchKey, err)
		}
		for _, o := range r.Offers {
			if !o.Price.Valid {
				continue
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO consolidated_offers(run_id, match_key, vendor, price, in_stock, url) VALUES($1, $2, $3, $4, $5, $6)`,
				runID, r.MatchKey, o.Vendor, nullDecimal(o.Price), o.InStock, o.URL)
			if err != nil {
				return fmt.Errorf("saving %s offer for %s: %w", o.Vendor, r.MatchKey, err)
			}
		}
	}

	return tx.Commit()
}

// LastConsolidation describes the persisted consolidation, if any.
func (d *DB) LastConsolidation(ctx context.Context) (ConsolidationSummary, error) {
	var (
		s       ConsolidationSummary
		runID   sql.NullString
		created interface{}
	)
	err := d.sql.QueryRowContext(ctx, `SELECT MAX(run_id), COUNT(*), MAX(created_at) FROM consolidated_products`).Scan(&runID, &s.Products, &created)
	if err != nil {
		return s, err
	}
	s.RunID = runID.String
	s.CreatedAt = parseTimestamp(created)
	return s, nil
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.StringFixed(2)
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// parseTimestamp accepts what the drivers hand back for a timestamp column:
// time.Time, or text when sqlite loses the declared type (aggregates).
// storedPrice converts a scanned price column. SQLite hands DECIMAL values
// back as float64 or int64, PostgreSQL numerics arrive as text.
func storedPrice(v interface{}) decimal.NullDecimal {
	switch x := v.(type) {
	case float64:
		if x < 0 {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(x))
	case int64:
		if x < 0 {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromInt(x))
	case []byte:
		return prices.ParseNumber(string(x))
	case string:
		return prices.ParseNumber(x)
	}
	return decimal.NullDecimal{}
}

func parseTimestamp(v interface{}) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
