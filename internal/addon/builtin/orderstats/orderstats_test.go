package orderstats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/straight_server/internal/addon"
)

func newMockStats(t *testing.T) (*Stats, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	bundle, err := New(addon.Env{DB: sqlx.NewDb(mockDB, "sqlite")})
	require.NoError(t, err)
	return bundle.(*Stats), mock
}

func TestRegistered(t *testing.T) {
	info, ok := addon.Default().Info(Module)
	require.True(t, ok)
	assert.Equal(t, "order-stats", info.Name)
}

func TestNewRequiresDatabase(t *testing.T) {
	_, err := New(addon.Env{})
	assert.Error(t, err)
}

func TestOrdersCount(t *testing.T) {
	stats, mock := newMockStats(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	got, err := stats.Operations()["orders_count"](context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrdersByStatus(t *testing.T) {
	stats, mock := newMockStats(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT payment_id, address, amount, status, created_at\s+FROM orders WHERE status = \?`).
		WithArgs(2, 5).
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "address", "amount", "status", "created_at"}).
			AddRow("pay-1", "1AddrX", 15000, 2, created))

	got, err := stats.Operations()["orders_by_status"](context.Background(), "paid", float64(5))
	require.NoError(t, err)
	assert.Equal(t, []OrderSummary{{PaymentID: "pay-1", Address: "1AddrX", Amount: 15000, Status: 2, CreatedAt: created}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrdersByStatusDefaultsLimit(t *testing.T) {
	stats, mock := newMockStats(t)
	mock.ExpectQuery(`FROM orders WHERE status = \?`).
		WithArgs(5, defaultLimit).
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "address", "amount", "status", "created_at"}))

	got, err := stats.Operations()["orders_by_status"](context.Background(), float64(5))
	require.NoError(t, err)
	assert.Equal(t, []OrderSummary{}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrdersByStatusArguments(t *testing.T) {
	stats, _ := newMockStats(t)
	op := stats.Operations()["orders_by_status"]

	_, err := op(context.Background())
	assert.Error(t, err)

	_, err = op(context.Background(), "refunded")
	assert.Error(t, err)

	_, err = op(context.Background(), 1.5)
	assert.Error(t, err)
}

func TestOrdersCountSurfacesError(t *testing.T) {
	stats, mock := newMockStats(t)
	boom := errors.New("no such table: orders")
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(boom)

	_, err := stats.Count(context.Background())
	assert.ErrorIs(t, err, boom)
}
