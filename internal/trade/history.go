package trade

import (
	"context"
	"time"

	"github.com/ksred/wuyi-market/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// SearchHistory lists confirmed orders. An empty search returns all of them.
func (s *Service) SearchHistory(ctx context.Context, search string) ([]types.Order, error) {
	return s.db.SearchOrders(ctx, search)
}

// Statistics totals the order history and compares the calendar month of now
// with the one before it. Growth is 0 when the previous month has no orders.
func (s *Service) Statistics(ctx context.Context, now time.Time) (types.Statistics, error) {
	orders, err := s.db.orderFacts(ctx)
	if err != nil {
		return types.Statistics{}, err
	}

	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	lastMonth := thisMonth.AddDate(0, -1, 0)
	current := createdBetween(orders, thisMonth, thisMonth.AddDate(0, 1, 0))
	previous := createdBetween(orders, lastMonth, thisMonth)

	return types.Statistics{
		TotalOrders:   int64(len(orders)),
		TotalBuyers:   int64(len(distinctBuyers(orders))),
		TotalAmount:   totalAmount(orders),
		MonthlyGrowth: growth(totalAmount(current).InexactFloat64(), totalAmount(previous).InexactFloat64()),
		OrderGrowth:   growth(float64(len(current)), float64(len(previous))),
		BuyerGrowth:   growth(float64(len(distinctBuyers(current))), float64(len(distinctBuyers(previous)))),
	}, nil
}

func createdBetween(orders []types.Order, from, to time.Time) []types.Order {
	return lo.Filter(orders, func(o types.Order, _ int) bool {
		return !o.CreatedAt.Before(from) && o.CreatedAt.Before(to)
	})
}

func totalAmount(orders []types.Order) decimal.Decimal {
	return lo.Reduce(orders, func(sum decimal.Decimal, o types.Order, _ int) decimal.Decimal {
		return sum.Add(o.Price)
	}, decimal.Zero)
}

// distinctBuyers counts buyers by phone number
func distinctBuyers(orders []types.Order) []string {
	return lo.Uniq(lo.Map(orders, func(o types.Order, _ int) string { return o.BuyerPhone }))
}

func growth(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}
