package types

import (
	"time"

	"github.com/ksred/wuyi-market/internal/validate"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const OrderCompleted OrderStatus = "completed"

// Order is the historical record of a confirmed trade. The work and buyer
// fields are snapshots taken at confirmation time.
type Order struct {
	ID             uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderNumber    string          `gorm:"column:order_number;type:varchar(7);uniqueIndex;not null" json:"order_number"`
	TradeID        string          `gorm:"column:trade_id;type:varchar(64);uniqueIndex;not null" json:"trade_id"`
	WorkID         int             `gorm:"column:work_id;index;not null" json:"work_id"`
	WorkName       string          `gorm:"column:work_name;type:varchar(200)" json:"work_name"`
	WorkImage      string          `gorm:"column:work_image;type:varchar(255)" json:"work_image"`
	Price          decimal.Decimal `gorm:"column:price;type:decimal(10,2);not null" json:"price"`
	BuyerName      string          `gorm:"column:buyer_name;type:varchar(20)" json:"buyer_name"`
	BuyerPhone     string          `gorm:"column:buyer_phone;type:varchar(11)" json:"-"`
	TradingAddress string          `gorm:"column:trading_address;type:varchar(80)" json:"trading_address"`
	TradingTime    string          `gorm:"column:trading_time;type:varchar(16)" json:"trading_time"`
	Status         OrderStatus     `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	CreatedAt      time.Time       `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

func (o Order) Product() Product {
	return Works{
		WorkID: o.WorkID,
		Status: WorkSold,
		Name:   o.WorkName,
		Image:  o.WorkImage,
		Price:  o.Price,
	}.Product()
}

func (o Order) User() User {
	return User{Name: o.BuyerName, Phone: o.BuyerPhone, Address: o.TradingAddress}
}

// FormattedOrderTime renders the creation time as YYYY-MM-DD HH:MM:SS.
func (o Order) FormattedOrderTime() string {
	return o.CreatedAt.Format(validate.OrderTimeLayout)
}
