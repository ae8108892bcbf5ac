package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Statistics is a derived report over the order history. Growth values are
// month-over-month percentages.
type Statistics struct {
	TotalOrders   int64           `json:"total_orders"`
	TotalBuyers   int64           `json:"total_buyers"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	MonthlyGrowth float64         `json:"monthly_growth"`
	OrderGrowth   float64         `json:"order_growth"`
	BuyerGrowth   float64         `json:"buyer_growth"`
}

// FormattedTotalAmount rounds to a whole yuan, e.g. ¥10000.
func (s Statistics) FormattedTotalAmount() string {
	return "¥" + s.TotalAmount.StringFixed(0)
}

func (s Statistics) FormattedMonthlyGrowth() string { return formatGrowth(s.MonthlyGrowth) }
func (s Statistics) FormattedOrderGrowth() string   { return formatGrowth(s.OrderGrowth) }
func (s Statistics) FormattedBuyerGrowth() string   { return formatGrowth(s.BuyerGrowth) }

func (s Statistics) IsMonthlyGrowthPositive() bool { return s.MonthlyGrowth > 0 }
func (s Statistics) IsOrderGrowthPositive() bool   { return s.OrderGrowth > 0 }
func (s Statistics) IsBuyerGrowthPositive() bool   { return s.BuyerGrowth > 0 }

func formatGrowth(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}
