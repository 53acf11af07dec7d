// Package orderstats is a compiled-in addon reporting on the orders table.
//
// Enable it by listing it in addons.yml without a path:
//
//	order_stats:
//	  module: OrderStats
package orderstats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/straight_server/internal/addon"
)

// Module is the manifest identifier of this addon.
const Module = "OrderStats"

const defaultLimit = 100

// Order statuses as stored in orders.status.
var statuses = map[string]int{
	"new":         0,
	"unconfirmed": 1,
	"paid":        2,
	"underpaid":   3,
	"overpaid":    4,
	"expired":     5,
	"canceled":    6,
}

func init() {
	addon.Register(Module, addon.Info{
		Name:        "order-stats",
		Version:     "1.0.0",
		Description: "Order counts and listings by status",
	}, New)
}

// OrderSummary is a row returned by orders_by_status.
type OrderSummary struct {
	PaymentID string    `db:"payment_id" json:"payment_id"`
	Address   string    `db:"address" json:"address"`
	Amount    int64     `db:"amount" json:"amount"`
	Status    int       `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Stats implements the addon bundle.
type Stats struct {
	db *sqlx.DB
}

// New is the addon factory.
func New(env addon.Env) (addon.Bundle, error) {
	if env.DB == nil {
		return nil, errors.New("orderstats: database handle is required")
	}
	return &Stats{db: env.DB}, nil
}

// Operations implements addon.Bundle.
func (s *Stats) Operations() map[string]addon.Operation {
	return map[string]addon.Operation{
		"orders_count":     s.ordersCount,
		"orders_by_status": s.ordersByStatus,
	}
}

// Count returns the number of orders.
func (s *Stats) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM orders`); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// ByStatus lists the newest orders with the given status.
func (s *Stats) ByStatus(ctx context.Context, status, limit int) ([]OrderSummary, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := s.db.Rebind(`SELECT payment_id, address, amount, status, created_at
		FROM orders WHERE status = ? ORDER BY created_at DESC LIMIT ?`)

	orders := []OrderSummary{}
	if err := s.db.SelectContext(ctx, &orders, query, status, limit); err != nil {
		return nil, fmt.Errorf("list orders with status %d: %w", status, err)
	}
	return orders, nil
}

func (s *Stats) ordersCount(ctx context.Context, _ ...any) (any, error) {
	return s.Count(ctx)
}

func (s *Stats) ordersByStatus(ctx context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errors.New("orders_by_status: status argument is required")
	}
	status, err := parseStatus(args[0])
	if err != nil {
		return nil, fmt.Errorf("orders_by_status: %w", err)
	}
	limit := 0
	if len(args) > 1 {
		if limit, err = toInt(args[1]); err != nil {
			return nil, fmt.Errorf("orders_by_status: limit: %w", err)
		}
	}
	return s.ByStatus(ctx, status, limit)
}

// parseStatus accepts a status code or name.
func parseStatus(v any) (int, error) {
	if name, ok := v.(string); ok {
		if code, known := statuses[strings.ToLower(strings.TrimSpace(name))]; known {
			return code, nil
		}
	}
	code, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("unknown status %v", v)
	}
	return code, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unsupported value %T", v)
	}
}
