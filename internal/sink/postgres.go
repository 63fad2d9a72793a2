package sink

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the product-record connection pool.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink inserts product records into Postgres.
type PostgresSink struct {
	pool  execCloser
	table string
}

// NewPostgresSink creates a Postgres-backed sink from the config.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool (primarily
// for testing).
func NewPostgresSinkWithPool(pool execCloser, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write upserts each record in the batch; the article/market/size key makes
// re-running a crawl idempotent at the table level.
func (s *PostgresSink) Write(ctx context.Context, records []catalog.ProductRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	article_no,
	title,
	description,
	division,
	category,
	list_price,
	sale_price,
	currency,
	discount_percentage,
	color,
	size,
	market,
	url,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (article_no, market, size) DO UPDATE SET
	list_price = EXCLUDED.list_price,
	sale_price = EXCLUDED.sale_price,
	discount_percentage = EXCLUDED.discount_percentage,
	scraped_at = EXCLUDED.scraped_at`, s.table)

	for _, rec := range records {
		args := []any{
			rec.ArticleNo,
			rec.Title,
			rec.Description,
			rec.Division,
			rec.Category,
			rec.ListPrice,
			rec.SalePrice,
			rec.Currency,
			rec.DiscountPercentage,
			rec.Color,
			rec.Size,
			rec.Market,
			rec.URL,
			rec.ScrapedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert product %s: %w", rec.ArticleNo, err)
		}
	}
	return nil
}
