// Package postgres provides the Postgres-backed listing store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool for listing rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ListingStore writes normalized listings into Postgres with hash-keyed
// upsert semantics.
type ListingStore struct {
	pool  queryRower
	table string
}

// NewListingStore connects a pool using the provided config.
func NewListingStore(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "listings"
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
	return &ListingStore{pool: pool, table: table}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool,
// primarily for testing.
func NewListingStoreWithPool(pool queryRower, table string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts the listing or, when its content hash already exists,
// refreshes the mutable columns. The returned flag reports whether a new row
// was created, which drives the notify-on-new pipeline.
func (s *ListingStore) Upsert(ctx context.Context, l *listing.Listing) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("listing store is not configured")
	}
	if l.ContentHash == "" {
		return false, fmt.Errorf("listing content hash is required")
	}

	featuresJSON, err := json.Marshal(l.Features)
	if err != nil {
		return false, fmt.Errorf("marshal features: %w", err)
	}
	imagesJSON, err := json.Marshal(l.Images)
	if err != nil {
		return false, fmt.Errorf("marshal images: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	content_hash,
	source,
	source_id,
	url,
	title,
	address,
	postal_code,
	city,
	price,
	price_numeric,
	price_period,
	service_costs,
	living_area,
	rooms,
	property_type,
	offering_type,
	images,
	features,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
ON CONFLICT (content_hash) DO UPDATE SET
	price = EXCLUDED.price,
	price_numeric = EXCLUDED.price_numeric,
	service_costs = EXCLUDED.service_costs,
	images = EXCLUDED.images,
	features = EXCLUDED.features,
	scraped_at = EXCLUDED.scraped_at
RETURNING (xmax = 0) AS inserted`, s.table)

	args := []any{
		l.ContentHash,
		l.Source,
		l.SourceID,
		l.URL,
		l.Title,
		l.Address,
		l.PostalCode,
		l.City,
		l.Price,
		l.PriceNumeric,
		l.PricePeriod,
		l.ServiceCosts,
		l.LivingArea,
		l.Rooms,
		string(l.PropertyType),
		string(l.OfferingType),
		imagesJSON,
		featuresJSON,
		l.ScrapedAt,
	}

	var inserted bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert listing: %w", err)
	}
	return inserted, nil
}
