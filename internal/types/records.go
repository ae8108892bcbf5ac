package types

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord remembers which resource a client-supplied key produced.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// OrderSequence holds the last order number handed out for a prefix.
type OrderSequence struct {
	Prefix    string `gorm:"primaryKey;type:varchar(2)"`
	LastValue int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (OrderSequence) TableName() string { return "order_sequences" }

// WorkSequence holds the last work id handed out. The table has a single row.
type WorkSequence struct {
	ID        int `gorm:"primaryKey;autoIncrement:false"`
	LastValue int `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (WorkSequence) TableName() string { return "work_sequences" }
