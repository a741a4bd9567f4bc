package cache

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *logrus.Logger
}

// ClickHouseArchive stores orders once they leave the in-memory book.
type ClickHouseArchive struct {
	conn     driver.Conn
	database string
}

var _ storage.OrderArchive = (*ClickHouseArchive)(nil)

func NewClickHouseArchive(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseArchive, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	a := &ClickHouseArchive{conn: conn, database: cfg.Database}
	if err := a.ensureTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"addr":     cfg.Addr,
		"database": cfg.Database,
	}).Info("connected to ClickHouse order archive")

	return a, nil
}

func (a *ClickHouseArchive) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			order_id     String,
			maker        String,
			from_token   String,
			to_token     String,
			from_amount  Float64,
			to_amount    Float64,
			status       LowCardinality(String),
			matched_with String,
			created_at   DateTime64(3, 'UTC'),
			expires_at   DateTime64(3, 'UTC'),
			updated_at   DateTime64(3, 'UTC')
		) ENGINE = MergeTree ORDER BY (created_at, order_id)
	`, a.database, constants.ClickHouseOrdersTable)

	if err := a.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create orders table: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) InsertOrder(ctx context.Context, order *models.SwapOrder) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.%s (
			order_id, maker, from_token, to_token, from_amount, to_amount,
			status, matched_with, created_at, expires_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.database, constants.ClickHouseOrdersTable)

	err := a.conn.Exec(ctx, query,
		order.OrderID,
		order.Maker,
		order.FromToken,
		order.ToToken,
		amountFloat(order.FromAmount),
		amountFloat(order.ToAmount),
		string(order.Status),
		order.MatchedWith,
		order.CreatedAt,
		order.ExpiresAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) Ping(ctx context.Context) error {
	return a.conn.Ping(ctx)
}

func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}

// amountFloat converts a decimal-string amount for the analytics column.
func amountFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
