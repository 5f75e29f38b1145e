package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"

	"krisha-scraper/models"
)

const listingColumns = 17

// PostgresWriter mirrors emitted listings into PostgreSQL, keyed by listing ID.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, eris.Wrap(ctx.Err(), "postgres: ping interrupted")
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "postgres: ping failed after retries")
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "postgres: migrate")
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id            UUID          PRIMARY KEY,
			url           TEXT          NOT NULL,
			city          TEXT          NOT NULL DEFAULT '',
			district      TEXT          NOT NULL DEFAULT 'unknown',
			title         TEXT          NOT NULL DEFAULT '',
			address       TEXT          NOT NULL DEFAULT '',
			property_type VARCHAR(16)   NOT NULL,
			deal_type     VARCHAR(16)   NOT NULL,
			rooms         INTEGER,
			area          NUMERIC(10,2) NOT NULL,
			price         NUMERIC(16,2) NOT NULL,
			floor         INTEGER,
			total_floors  INTEGER,
			latitude      DOUBLE PRECISION,
			longitude     DOUBLE PRECISION,
			geohash       VARCHAR(12)   NOT NULL DEFAULT '',
			retrieved_at  TIMESTAMPTZ   NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_listings_price    ON listings(price);
		CREATE INDEX IF NOT EXISTS idx_listings_district ON listings(district);
		CREATE INDEX IF NOT EXISTS idx_listings_kind     ON listings(deal_type, property_type);
	`)
	return err
}

// Write upserts records in batches; a listing seen again replaces its old row.
func (pw *PostgresWriter) Write(ctx context.Context, records []*models.ListingRecord) error {
	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		query, args := upsertQuery(records[i:end])
		if _, err := pw.db.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "postgres: upsert batch at %d", i)
		}
	}
	return nil
}

func upsertQuery(batch []*models.ListingRecord) (string, []interface{}) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*listingColumns)

	for idx, r := range batch {
		placeholders := make([]string, listingColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", idx*listingColumns+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")

		var lat, lon interface{}
		if r.Coordinates != nil {
			lat, lon = r.Coordinates.Lat, r.Coordinates.Lon
		}
		valueArgs = append(valueArgs,
			r.ID, r.URL, r.City, r.District, r.Title, r.Address.Full,
			string(r.PropertyType), string(r.DealType), nullInt(r.Rooms),
			r.Area, r.Price, nullInt(r.Floor), nullInt(r.TotalFloors),
			lat, lon, r.Geohash, r.RetrievedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (id, url, city, district, title, address, property_type, deal_type,
			rooms, area, price, floor, total_floors, latitude, longitude, geohash, retrieved_at)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			district = EXCLUDED.district, title = EXCLUDED.title, address = EXCLUDED.address,
			rooms = EXCLUDED.rooms, area = EXCLUDED.area, price = EXCLUDED.price,
			floor = EXCLUDED.floor, total_floors = EXCLUDED.total_floors,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
			geohash = EXCLUDED.geohash, retrieved_at = EXCLUDED.retrieved_at
	`, strings.Join(valueStrings, ","))

	return query, valueArgs
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
