package types

import (
	"fmt"

	"github.com/ksred/wuyi-market/internal/validate"
	"github.com/samber/mo"
	"gorm.io/gorm"
)

type BuyerStatus string

const (
	BuyerPending BuyerStatus = "pending"
	BuyerTraded  BuyerStatus = "traded"
)

// Buyer is a reservation request tying a prospective buyer to a work and an
// order id. Build it with NewBuyer; the zero value is not a valid Buyer.
type Buyer struct {
	gorm.Model       `json:"-"`
	BuyerName        string      `gorm:"column:buyer_name;type:varchar(20);not null" json:"buyer_name"`
	BuyerPhoneNumber string      `gorm:"column:buyer_phonenumber;type:varchar(11);not null" json:"buyer_phonenumber"`
	TradingAddress   string      `gorm:"column:trading_address;type:varchar(80);not null" json:"trading_address"`
	TradingTime      string      `gorm:"column:trading_time;type:varchar(16);not null" json:"trading_time"`
	OrderID          string      `gorm:"column:order_id;type:varchar(7);uniqueIndex;not null" json:"order_id"`
	OrderTime        string      `gorm:"column:order_time;type:varchar(19);not null" json:"order_time"`
	WorkID           int         `gorm:"column:work_id;index;not null" json:"work_id"`
	Status           BuyerStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
}

func (Buyer) TableName() string { return "buyers" }

// NewBuyer validates every field and returns either a complete pending Buyer
// or the first violated rule.
func NewBuyer(name, phone, address, tradingTime, orderID, orderTime string, workID int) (*Buyer, error) {
	b := &Buyer{Status: BuyerPending}
	if err := firstErr(
		assign(&b.BuyerName, validate.BuyerName(name)),
		assign(&b.BuyerPhoneNumber, validate.Phone(phone)),
		assign(&b.TradingAddress, validate.Address(address)),
		assign(&b.TradingTime, validate.TradingTime(tradingTime)),
		assign(&b.OrderID, validate.OrderID(orderID)),
		assign(&b.OrderTime, validate.OrderTime(orderTime)),
		assign(&b.WorkID, validate.WorkID(workID)),
	); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate re-checks a Buyer that did not come from NewBuyer, e.g. one
// assembled by hand before an insert.
func (b *Buyer) Validate() error {
	_, err := NewBuyer(b.BuyerName, b.BuyerPhoneNumber, b.TradingAddress, b.TradingTime, b.OrderID, b.OrderTime, b.WorkID)
	return err
}

func (b *Buyer) User() User {
	return User{Name: b.BuyerName, Phone: b.BuyerPhoneNumber, Address: b.TradingAddress}
}

func (b *Buyer) String() string {
	return fmt.Sprintf("Buyer [buyer_name=%s, buyer_phonenumber=%s, trading_address=%s, trading_time=%s, order_id=%s, order_time=%s, work_id=%04d]",
		b.BuyerName, b.BuyerPhoneNumber, b.TradingAddress, b.TradingTime, b.OrderID, b.OrderTime, b.WorkID)
}

// assign stores the value of rs into dst when it is Ok.
func assign[T any](dst *T, rs mo.Result[T]) error {
	v, err := rs.Get()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
