package migrations

import (
	"fmt"

	"github.com/ksred/wuyi-market/internal/types"
	"gorm.io/gorm"
)

type index struct {
	table   string
	name    string
	columns string
}

// AddTradeIndexes creates the bookkeeping tables and the composite indexes
// used by the reservation and history queries
func AddTradeIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.OrderSequence{}, &types.WorkSequence{}, &types.IdempotencyRecord{}); err != nil {
		return err
	}

	indexes := []index{
		// Interested buyers of a work
		{"buyers", "idx_buyers_work_status", "work_id, status"},

		// Sale guard: work_id + status
		{"works", "idx_works_work_id_status", "work_id, status"},

		// Monthly statistics
		{"orders", "idx_orders_created_at_status", "created_at, status"},
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS
	for _, idx := range indexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s(%s)", idx.name, idx.table, idx.columns)
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}
