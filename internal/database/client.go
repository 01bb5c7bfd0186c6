// Package database provides read-only PostgreSQL access to recorded OwnTracks
// fixes, used to replay a past walk through the geolocation layer.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

// Location represents a recorded GPS fix
type Location struct {
	ID        int64
	DeviceID  string
	Latitude  float64
	Longitude float64
	Accuracy  int
	CreatedAt time.Time
}

// NewClient creates a new database client with connection pooling
func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetLocationsByDate retrieves fixes for a specific date in chronological order.
// Date should be in YYYY-MM-DD format
func (c *Client) GetLocationsByDate(ctx context.Context, date string, deviceID string) ([]Location, error) {
	query, args := locationsQuery(date, deviceID)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var locations []Location
	for rows.Next() {
		var loc Location
		var accuracy sql.NullInt64

		if err := rows.Scan(
			&loc.ID,
			&loc.DeviceID,
			&loc.Latitude,
			&loc.Longitude,
			&accuracy,
			&loc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		if accuracy.Valid {
			loc.Accuracy = int(accuracy.Int64)
		}

		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return locations, nil
}

// GetLocationCount returns the count of fixes for a specific date
func (c *Client) GetLocationCount(ctx context.Context, date string, deviceID string) (int, error) {
	query := `SELECT COUNT(*) FROM public.locations WHERE DATE(created_at) = $1`
	args := []interface{}{date}

	if deviceID != "" {
		query += " AND device_id = $2"
		args = append(args, deviceID)
	}

	var count int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}

	return count, nil
}

// HealthCheck verifies database connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func locationsQuery(date, deviceID string) (string, []interface{}) {
	query := `
		SELECT id, device_id, latitude, longitude, accuracy, created_at
		FROM public.locations
		WHERE DATE(created_at) = $1
	`
	args := []interface{}{date}

	if deviceID != "" {
		query += " AND device_id = $2"
		args = append(args, deviceID)
	}

	query += " ORDER BY created_at ASC"

	return query, args
}
