package types

import (
	"fmt"

	"github.com/ksred/wuyi-market/internal/validate"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WorkStatus string

const (
	WorkAvailable WorkStatus = "available"
	WorkReserved  WorkStatus = "reserved"
	WorkSold      WorkStatus = "sold"
)

// Works is a listed second-hand item. WorkID is the 4-digit public id.
type Works struct {
	gorm.Model  `json:"-"`
	WorkID      int             `gorm:"column:work_id;uniqueIndex;not null" json:"work_id"`
	Status      WorkStatus      `gorm:"column:status;type:varchar(20);index;not null" json:"work_status"`
	Name        string          `gorm:"column:name;type:varchar(200);not null" json:"work_name"`
	Description string          `gorm:"column:description;type:text" json:"work_description"`
	Image       string          `gorm:"column:image;type:varchar(255)" json:"work_image"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(10,2);not null" json:"work_price"`
}

func (Works) TableName() string { return "works" }

// NewWorks validates a listing. The work id is allocated when it is stored.
func NewWorks(status, name, description, image, price string) (*Works, error) {
	w := &Works{Image: image}
	var st string
	if err := firstErr(
		assign(&st, validate.WorkStatus(status)),
		assign(&w.Name, validate.WorkName(name)),
		assign(&w.Description, validate.WorkDescription(description)),
		assign(&w.Price, validate.Price(price)),
	); err != nil {
		return nil, err
	}
	w.Status = WorkStatus(st)
	return w, nil
}

// FormattedPrice renders the price as ¥ with two decimals.
func (w Works) FormattedPrice() string {
	return formatPrice(w.Price)
}

func (w Works) StatusClass() string {
	return statusClass(string(w.Status))
}

// Product returns the presentation view of the listing.
func (w Works) Product() Product {
	return Product{
		ID:          fmt.Sprintf("P%04d", w.WorkID),
		Name:        w.Name,
		Description: w.Description,
		Image:       w.Image,
		Price:       w.Price,
		Status:      string(w.Status),
	}
}
