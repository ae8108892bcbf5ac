package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/wuyi-market/internal/market"
	"github.com/ksred/wuyi-market/internal/metrics"
	"github.com/ksred/wuyi-market/internal/types"
	"github.com/ksred/wuyi-market/internal/validate"
	"github.com/ksred/wuyi-market/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const resourceReservation = "reservation"

var (
	ErrWorkNotFound      = market.ErrWorkNotFound
	ErrBuyerNotFound     = fmt.Errorf("buyer not found: %w", response.ErrNotFound)
	ErrWorkUnavailable   = fmt.Errorf("work is no longer available: %w", response.ErrConflict)
	ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", response.ErrConflict)
	ErrOrderIDExhausted  = errors.New("order id space exhausted")
)

// transitions lists the status changes a seller may request. Nothing leaves sold.
var transitions = map[types.WorkStatus][]types.WorkStatus{
	types.WorkAvailable: {types.WorkReserved, types.WorkSold},
	types.WorkReserved:  {types.WorkSold},
}

// ReservationForm is the buyer submission for a listing
type ReservationForm struct {
	WorkID      int    `form:"work_id" json:"work_id"`
	BuyerName   string `form:"buyer_name" json:"buyer_name"`
	Phone       string `form:"buyer_phonenumber" json:"buyer_phonenumber"`
	Address     string `form:"trading_address" json:"trading_address"`
	TradingTime string `form:"trading_time" json:"trading_time"`
}

// ModifyForm is the seller edit form. Empty fields keep their stored value;
// OrderID picks the buyer when the status changes to sold.
type ModifyForm struct {
	Status      string `form:"work_status1" json:"work_status1"`
	Name        string `form:"work_name1" json:"work_name1"`
	Description string `form:"work_description1" json:"work_description1"`
	Price       string `form:"work_price1" json:"work_price1"`
	Image       string `form:"work_image1" json:"work_image1"`
	OrderID     string `form:"order_id" json:"order_id"`
}

// Service runs the reservation and sale lifecycle of listings
type Service struct {
	db             *Database
	works          *market.Database
	metrics        *metrics.Metrics
	orderPrefix    string
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewService creates a trade service. prefix is the two-letter order id prefix.
func NewService(gormDB *gorm.DB, m *metrics.Metrics, prefix string, idempotencyTTL time.Duration) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		works:          market.NewDatabase(gormDB),
		metrics:        m,
		orderPrefix:    strings.ToUpper(prefix),
		idempotencyTTL: idempotencyTTL,
		now:            time.Now,
	}
}

// GetDB returns the trade database
func (s *Service) GetDB() *Database {
	return s.db
}

func checkReservation(form ReservationForm) error {
	return lo.FirstOr(lo.Compact([]error{
		validate.BuyerName(form.BuyerName).Error(),
		validate.Phone(form.Phone).Error(),
		validate.Address(form.Address).Error(),
		validate.TradingTime(form.TradingTime).Error(),
		validate.WorkID(form.WorkID).Error(),
	}), nil)
}

// result labels an outcome for the lifecycle counters
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, validate.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, response.ErrNotFound):
		return "not_found"
	case errors.Is(err, response.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

// Reserve records a buyer's interest in a listing and hands out the next
// order id. The work must exist and must not be sold; it becomes reserved.
// A repeated idempotency key returns the buyer created the first time.
func (s *Service) Reserve(ctx context.Context, form ReservationForm, idempotencyKey string) (*types.Buyer, error) {
	logger := log.With().Str("service", "trade").Int("work_id", form.WorkID).Logger()
	now := s.now()

	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(ctx, idempotencyKey, now)
		if err != nil {
			return nil, err
		}
		if record != nil {
			buyer, err := s.db.GetBuyerByOrderID(ctx, record.ResourceID)
			if err != nil {
				return nil, err
			}
			if buyer != nil {
				logger.Info().Str("order_id", buyer.OrderID).Msg("replaying reservation")
				s.metrics.Reservation("replayed")
				return buyer, nil
			}
		}
	}

	form.TradingTime = validate.NormalizeDateTimeLocal(form.TradingTime)
	if err := checkReservation(form); err != nil {
		s.metrics.Reservation(result(err))
		return nil, err
	}

	var buyer *types.Buyer
	err := s.db.inTx(ctx, func(tx *Database) error {
		works, err := tx.getWorks(ctx, form.WorkID)
		if err != nil {
			return err
		}
		if works == nil {
			return ErrWorkNotFound
		}
		if works.Status == types.WorkSold {
			return ErrWorkUnavailable
		}

		orderID, err := tx.NextOrderID(tx.db, s.orderPrefix)
		if err != nil {
			return err
		}

		buyer, err = types.NewBuyer(form.BuyerName, form.Phone, form.Address, form.TradingTime,
			orderID, now.Format(validate.OrderTimeLayout), form.WorkID)
		if err != nil {
			return err
		}
		if err := tx.createBuyer(ctx, buyer); err != nil {
			return fmt.Errorf("failed to create buyer: %w", err)
		}

		n, err := tx.setWorksStatus(ctx, form.WorkID, types.WorkReserved, types.WorkAvailable, types.WorkReserved)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWorkUnavailable
		}

		if idempotencyKey == "" {
			return nil
		}
		return tx.createIdempotencyRecord(ctx, &types.IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     orderID,
			ResourceType:   resourceReservation,
			ExpiresAt:      now.Add(s.idempotencyTTL),
		}, now)
	})
	s.metrics.Reservation(result(err))
	if err != nil {
		logger.Warn().Err(err).Msg("reservation rejected")
		return nil, err
	}

	logger.Info().
		Str("order_id", buyer.OrderID).
		Str("trading_time", buyer.TradingTime).
		Msg("reservation created")
	return buyer, nil
}

// ConfirmTrade sells a work. orderID names the buyer; when it is empty the
// earliest pending buyer is used, and a work nobody reserved is sold without
// an order record. Only one confirmation per work can succeed.
func (s *Service) ConfirmTrade(ctx context.Context, workID int, orderID string) (*types.Order, error) {
	if err := validate.WorkID(workID).Error(); err != nil {
		return nil, err
	}
	if orderID != "" {
		if err := validate.OrderID(orderID).Error(); err != nil {
			return nil, err
		}
	}

	var order *types.Order
	err := s.db.inTx(ctx, func(tx *Database) error {
		works, err := tx.getWorks(ctx, workID)
		if err != nil {
			return err
		}
		if works == nil {
			return ErrWorkNotFound
		}
		order, err = s.confirm(ctx, tx, works, orderID)
		return err
	})
	s.logTrade(workID, order, err)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// TradeByOrderID confirms the sale to the buyer holding orderID
func (s *Service) TradeByOrderID(ctx context.Context, orderID string) (*types.Order, error) {
	buyer, err := s.GetBuyer(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.ConfirmTrade(ctx, buyer.WorkID, buyer.OrderID)
}

// confirm runs inside tx. works carries the values snapshotted into the order.
func (s *Service) confirm(ctx context.Context, tx *Database, works *types.Works, orderID string) (*types.Order, error) {
	if works.Status == types.WorkSold {
		return nil, ErrWorkUnavailable
	}

	buyer, err := s.resolveBuyer(ctx, tx, works.WorkID, orderID)
	if err != nil {
		return nil, err
	}
	if buyer != nil {
		n, err := tx.Trade(ctx, buyer.OrderID)
		if err != nil {
			return nil, err
		}
		if n != 1 {
			return nil, fmt.Errorf("order %s is not pending: %w", buyer.OrderID, ErrInvalidTransition)
		}
	}

	n, err := tx.setWorksStatus(ctx, works.WorkID, types.WorkSold, types.WorkAvailable, types.WorkReserved)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrWorkUnavailable
	}
	if buyer == nil {
		return nil, nil
	}

	now := s.now()
	order := &types.Order{
		OrderNumber:    buyer.OrderID,
		TradeID:        "TRD_" + uuid.New().String(),
		WorkID:         works.WorkID,
		WorkName:       works.Name,
		WorkImage:      works.Image,
		Price:          works.Price,
		BuyerName:      buyer.BuyerName,
		BuyerPhone:     buyer.BuyerPhoneNumber,
		TradingAddress: buyer.TradingAddress,
		TradingTime:    buyer.TradingTime,
		Status:         types.OrderCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.createOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

func (s *Service) resolveBuyer(ctx context.Context, tx *Database, workID int, orderID string) (*types.Buyer, error) {
	if orderID == "" {
		return tx.firstPendingBuyer(ctx, workID)
	}
	buyer, err := tx.GetBuyerByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		return nil, ErrBuyerNotFound
	}
	if buyer.WorkID != workID {
		return nil, fmt.Errorf("order %s does not belong to work %04d: %w", buyer.OrderID, workID, ErrBuyerNotFound)
	}
	return buyer, nil
}

func (s *Service) logTrade(workID int, order *types.Order, err error) {
	s.metrics.Trade(result(err))
	logger := log.With().Str("service", "trade").Int("work_id", workID).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("trade rejected")
		return
	}
	if order == nil {
		logger.Info().Msg("work sold without reservation")
		return
	}
	logger.Info().
		Str("order_id", order.OrderNumber).
		Str("trade_id", order.TradeID).
		Str("price", order.Price.StringFixed(2)).
		Msg("trade confirmed")
}

// ModifyWorks applies the seller edit form to a listing. A status change must
// follow the transition table; a change to sold confirms the trade.
func (s *Service) ModifyWorks(ctx context.Context, workID int, form ModifyForm) (*types.Works, *types.Order, error) {
	if err := validate.WorkID(workID).Error(); err != nil {
		return nil, nil, err
	}
	if form.OrderID != "" {
		if err := validate.OrderID(form.OrderID).Error(); err != nil {
			return nil, nil, err
		}
	}

	current, err := s.works.GetWorks(ctx, workID)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, ErrWorkNotFound
	}

	edited, err := types.NewWorks(
		lo.CoalesceOrEmpty(form.Status, string(current.Status)),
		lo.CoalesceOrEmpty(form.Name, current.Name),
		lo.CoalesceOrEmpty(form.Description, current.Description),
		lo.CoalesceOrEmpty(form.Image, current.Image),
		lo.CoalesceOrEmpty(form.Price, current.Price.String()),
	)
	if err != nil {
		return nil, nil, err
	}
	edited.WorkID = workID

	var order *types.Order
	sold := false
	err = s.db.inTx(ctx, func(tx *Database) error {
		stored, err := tx.getWorks(ctx, workID)
		if err != nil {
			return err
		}
		if stored == nil {
			return ErrWorkNotFound
		}
		if edited.Status != stored.Status && !lo.Contains(transitions[stored.Status], edited.Status) {
			return fmt.Errorf("%s to %s: %w", stored.Status, edited.Status, ErrInvalidTransition)
		}

		if err := tx.updateWorksFields(ctx, edited); err != nil {
			return fmt.Errorf("failed to update work %d: %w", workID, err)
		}

		switch {
		case edited.Status == stored.Status:
			return nil
		case edited.Status == types.WorkReserved:
			n, err := tx.setWorksStatus(ctx, workID, types.WorkReserved, types.WorkAvailable)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrWorkUnavailable
			}
			return nil
		default:
			sold = true
			snapshot := *edited
			snapshot.Status = stored.Status
			order, err = s.confirm(ctx, tx, &snapshot, form.OrderID)
			return err
		}
	})
	if sold {
		s.logTrade(workID, order, err)
	}
	if err != nil {
		return nil, nil, err
	}

	refreshed, err := s.works.GetWorks(ctx, workID)
	if err != nil {
		return nil, nil, err
	}
	if refreshed == nil {
		return nil, nil, ErrWorkNotFound
	}

	log.Info().
		Str("service", "trade").
		Int("work_id", workID).
		Str("status", string(refreshed.Status)).
		Msg("listing modified")
	return refreshed, order, nil
}

// GetBuyer returns the buyer holding orderID or ErrBuyerNotFound
func (s *Service) GetBuyer(ctx context.Context, orderID string) (*types.Buyer, error) {
	buyer, err := s.db.GetBuyerByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		return nil, ErrBuyerNotFound
	}
	return buyer, nil
}

// ListBuyers returns the buyers interested in a listing
func (s *Service) ListBuyers(ctx context.Context, workID int) ([]types.Buyer, error) {
	works, err := s.works.GetWorks(ctx, workID)
	if err != nil {
		return nil, err
	}
	if works == nil {
		return nil, ErrWorkNotFound
	}
	return s.db.ListBuyersByWork(ctx, workID)
}

// ListWorks returns every listing
func (s *Service) ListWorks(ctx context.Context) ([]types.Works, error) {
	return s.works.SearchAll(ctx)
}
