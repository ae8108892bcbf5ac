package migrations

import (
	"github.com/ksred/wuyi-market/internal/types"
	"gorm.io/gorm"
)

// CreateMarketTables creates the listing, reservation and history tables
func CreateMarketTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Works{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Buyer{}); err != nil {
		return err
	}

	return db.AutoMigrate(&types.Order{})
}
