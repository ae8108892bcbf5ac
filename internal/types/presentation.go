package types

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	classNeutral  = "bg-gray-100 text-gray-800"
	classPositive = "bg-green-100 text-green-800"
	classPending  = "bg-yellow-100 text-yellow-800"
)

// Product is the display form of a listing or of the item inside an order.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status"`
}

func (p Product) FormattedPrice() string {
	return formatPrice(p.Price)
}

func (p Product) StatusClass() string {
	return statusClass(p.Status)
}

// User is the display form of a buyer.
type User struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// MaskedPhone hides the middle four digits of an 11-digit phone.
func (u User) MaskedPhone() string {
	if utf8.RuneCountInString(u.Phone) != 11 {
		return u.Phone
	}
	r := []rune(u.Phone)
	return string(r[:3]) + "****" + string(r[7:])
}

func formatPrice(d decimal.Decimal) string {
	return "¥" + d.StringFixed(2)
}

func statusClass(status string) string {
	switch status {
	case string(WorkSold), "已售罄":
		return classPositive
	case string(WorkReserved), "已预订":
		return classPending
	default:
		return classNeutral
	}
}
