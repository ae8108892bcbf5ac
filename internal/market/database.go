package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/wuyi-market/internal/types"
	"github.com/ksred/wuyi-market/internal/validate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// firstWorkID is the id of the first listing; ids stay four digits wide.
	firstWorkID     = 1001
	workSequenceRow = 1
)

var (
	ErrNoConnection    = errors.New("no database connection")
	ErrWorkIDExhausted = errors.New("work id space exhausted")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SearchAll returns every listing ordered by work id. A missing or closed
// connection is an error, never an empty list.
func (d *Database) SearchAll(ctx context.Context) ([]types.Works, error) {
	if d == nil || d.db == nil {
		return nil, ErrNoConnection
	}
	works := []types.Works{}
	if err := d.db.WithContext(ctx).Order("work_id").Find(&works).Error; err != nil {
		return nil, fmt.Errorf("failed to search works: %w", err)
	}
	return works, nil
}

// GetWorks returns nil when no listing has the id
func (d *Database) GetWorks(ctx context.Context, workID int) (*types.Works, error) {
	if d == nil || d.db == nil {
		return nil, ErrNoConnection
	}
	var works types.Works
	if err := d.db.WithContext(ctx).Where("work_id = ?", workID).First(&works).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &works, nil
}

// CreateWorks allocates the next work id and stores the listing
func (d *Database) CreateWorks(ctx context.Context, works *types.Works) error {
	if d == nil || d.db == nil {
		return ErrNoConnection
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := nextWorkID(tx)
		if err != nil {
			return err
		}
		works.WorkID = id
		return tx.Create(works).Error
	})
}

// nextWorkID advances the single work sequence row inside tx. The UPDATE
// locks the row, so concurrent listings on mysql and postgres queue behind
// each other instead of reading the same value. The row is seeded from the
// highest stored work id the first time it is needed.
func nextWorkID(tx *gorm.DB) (int, error) {
	var maxID int
	if err := tx.Unscoped().Model(&types.Works{}).
		Select("COALESCE(MAX(work_id), ?)", firstWorkID-1).
		Scan(&maxID).Error; err != nil {
		return 0, fmt.Errorf("failed to allocate work id: %w", err)
	}

	seq := types.WorkSequence{ID: workSequenceRow, LastValue: maxID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return 0, fmt.Errorf("failed to init work sequence: %w", err)
	}
	if err := tx.Model(&types.WorkSequence{}).
		Where("id = ?", workSequenceRow).
		Updates(map[string]interface{}{
			"last_value": gorm.Expr("last_value + 1"),
			"updated_at": time.Now(),
		}).Error; err != nil {
		return 0, fmt.Errorf("failed to advance work sequence: %w", err)
	}
	if err := tx.Where("id = ?", workSequenceRow).First(&seq).Error; err != nil {
		return 0, fmt.Errorf("failed to read work sequence: %w", err)
	}
	if seq.LastValue > validate.MaxWorkID {
		return 0, ErrWorkIDExhausted
	}
	return seq.LastValue, nil
}
