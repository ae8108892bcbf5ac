package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksred/wuyi-market/internal/types"
	"github.com/ksred/wuyi-market/internal/validate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxOrderSequence is the largest number that fits the 5-digit order id.
const maxOrderSequence = 99999

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// inTx runs fn against a Database bound to a single transaction. Every
// statement inside fn must go through the Database it is given.
func (d *Database) inTx(ctx context.Context, fn func(tx *Database) error) error {
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&Database{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// GetBuyerByOrderID returns nil when no buyer has the order id. A malformed
// id is rejected before the store is queried.
func (d *Database) GetBuyerByOrderID(ctx context.Context, orderID string) (*types.Buyer, error) {
	id, err := validate.OrderID(orderID).Get()
	if err != nil {
		return nil, err
	}

	var buyer types.Buyer
	if err := d.db.WithContext(ctx).Where("order_id = ?", id).First(&buyer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get buyer %s: %w", id, err)
	}
	return &buyer, nil
}

// Trade marks the pending buyer with the order id as traded and returns the
// number of affected rows: 1 on success, 0 when no pending buyer matches.
func (d *Database) Trade(ctx context.Context, orderID string) (int64, error) {
	id, err := validate.OrderID(orderID).Get()
	if err != nil {
		return 0, err
	}

	result := d.db.WithContext(ctx).Model(&types.Buyer{}).
		Where("order_id = ? AND status = ?", id, types.BuyerPending).
		Update("status", types.BuyerTraded)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to trade %s: %w", id, result.Error)
	}
	return result.RowsAffected, nil
}

// ListBuyersByWork returns the buyers interested in a work, oldest first.
func (d *Database) ListBuyersByWork(ctx context.Context, workID int) ([]types.Buyer, error) {
	buyers := []types.Buyer{}
	if err := d.db.WithContext(ctx).
		Where("work_id = ?", workID).
		Order("id").
		Find(&buyers).Error; err != nil {
		return nil, fmt.Errorf("failed to list buyers of work %d: %w", workID, err)
	}
	return buyers, nil
}

func (d *Database) firstPendingBuyer(ctx context.Context, workID int) (*types.Buyer, error) {
	var buyer types.Buyer
	if err := d.db.WithContext(ctx).
		Where("work_id = ? AND status = ?", workID, types.BuyerPending).
		Order("id").
		First(&buyer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &buyer, nil
}

func (d *Database) createBuyer(ctx context.Context, buyer *types.Buyer) error {
	return d.db.WithContext(ctx).Create(buyer).Error
}

// NextOrderID increments the sequence of prefix inside tx and formats the
// result as prefix plus five digits. The increment rolls back with tx.
func (d *Database) NextOrderID(tx *gorm.DB, prefix string) (string, error) {
	seq := types.OrderSequence{Prefix: prefix}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return "", fmt.Errorf("failed to init order sequence %s: %w", prefix, err)
	}
	if err := tx.Model(&types.OrderSequence{}).
		Where("prefix = ?", prefix).
		Updates(map[string]interface{}{
			"last_value": gorm.Expr("last_value + 1"),
			"updated_at": time.Now(),
		}).Error; err != nil {
		return "", fmt.Errorf("failed to advance order sequence %s: %w", prefix, err)
	}
	if err := tx.Where("prefix = ?", prefix).First(&seq).Error; err != nil {
		return "", fmt.Errorf("failed to read order sequence %s: %w", prefix, err)
	}
	if seq.LastValue > maxOrderSequence {
		return "", ErrOrderIDExhausted
	}
	return fmt.Sprintf("%s%05d", prefix, seq.LastValue), nil
}

func (d *Database) getWorks(ctx context.Context, workID int) (*types.Works, error) {
	var works types.Works
	if err := d.db.WithContext(ctx).Where("work_id = ?", workID).First(&works).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &works, nil
}

// setWorksStatus moves a work to status only while it is in one of from.
// The affected row count tells the caller whether it won the race.
func (d *Database) setWorksStatus(ctx context.Context, workID int, status types.WorkStatus, from ...types.WorkStatus) (int64, error) {
	result := d.db.WithContext(ctx).Model(&types.Works{}).
		Where("work_id = ? AND status IN ?", workID, from).
		Update("status", status)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to set work %d %s: %w", workID, status, result.Error)
	}
	return result.RowsAffected, nil
}

func (d *Database) updateWorksFields(ctx context.Context, w *types.Works) error {
	return d.db.WithContext(ctx).Model(&types.Works{}).
		Where("work_id = ?", w.WorkID).
		Updates(map[string]interface{}{
			"name":        w.Name,
			"description": w.Description,
			"image":       w.Image,
			"price":       w.Price,
		}).Error
}

func (d *Database) createOrder(ctx context.Context, order *types.Order) error {
	return d.db.WithContext(ctx).Create(order).Error
}

// SearchOrders returns all orders newest first for an empty search, otherwise
// the order whose number equals search ignoring case.
func (d *Database) SearchOrders(ctx context.Context, search string) ([]types.Order, error) {
	orders := []types.Order{}
	q := d.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if search = strings.TrimSpace(search); search != "" {
		q = q.Where("order_number = ?", strings.ToUpper(search))
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to search orders: %w", err)
	}
	return orders, nil
}

func (d *Database) orderFacts(ctx context.Context) ([]types.Order, error) {
	orders := []types.Order{}
	if err := d.db.WithContext(ctx).
		Select("price", "buyer_phone", "created_at").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return orders, nil
}

// GetIdempotencyRecord returns nil when the key is unknown or has expired
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string, now time.Time) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.WithContext(ctx).
		Where("idempotency_key = ? AND expires_at > ?", key, now).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) createIdempotencyRecord(ctx context.Context, record *types.IdempotencyRecord, now time.Time) error {
	// An expired record with the same key may still be waiting for the janitor.
	if err := d.db.WithContext(ctx).Unscoped().
		Where("idempotency_key = ? AND expires_at <= ?", record.IdempotencyKey, now).
		Delete(&types.IdempotencyRecord{}).Error; err != nil {
		return err
	}
	return d.db.WithContext(ctx).Create(record).Error
}

// DeleteExpiredIdempotency hard deletes records that expired before now
func (d *Database) DeleteExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Unscoped().
		Where("expires_at <= ?", now).
		Delete(&types.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
