package trade

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ksred/wuyi-market/internal/market"
	"github.com/ksred/wuyi-market/internal/metrics"
	"github.com/ksred/wuyi-market/internal/testutil"
	"github.com/ksred/wuyi-market/internal/types"
	"github.com/ksred/wuyi-market/internal/validate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var orderIDPattern = regexp.MustCompile(`^DD[0-9]{5}$`)

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	return NewService(db, metrics.New(), "DD", 24*time.Hour), db
}

func createWork(t *testing.T, db *gorm.DB, name, price string) *types.Works {
	t.Helper()
	w, err := types.NewWorks("available", name, "", "", price)
	require.NoError(t, err)
	require.NoError(t, market.NewDatabase(db).CreateWorks(context.Background(), w))
	return w
}

func reservation(workID int, name, phone string) ReservationForm {
	return ReservationForm{
		WorkID:      workID,
		BuyerName:   name,
		Phone:       phone,
		Address:     "测试地址123号",
		TradingTime: "2024-12-31T16:00",
	}
}

func workStatus(t *testing.T, db *gorm.DB, workID int) types.WorkStatus {
	t.Helper()
	w, err := market.NewDatabase(db).GetWorks(context.Background(), workID)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w.Status
}

func TestGetBuyerByOrderID(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.db.GetBuyerByOrderID(ctx, "D0001")
	assert.ErrorIs(t, err, validate.ErrInvalidArgument)

	buyer, err := svc.db.GetBuyerByOrderID(ctx, "DD99999")
	require.NoError(t, err)
	assert.Nil(t, buyer)

	_, err = svc.GetBuyer(ctx, "DD99999")
	assert.ErrorIs(t, err, ErrBuyerNotFound)
}

func TestTradeUnknownOrder(t *testing.T) {
	svc, _ := setup(t)

	n, err := svc.db.Trade(context.Background(), "XX99999")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.db.Trade(context.Background(), "123")
	assert.ErrorIs(t, err, validate.ErrInvalidArgument)
}

func TestReserve(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "测试商品", "299.99")

	first, err := svc.Reserve(ctx, reservation(work.WorkID, "测试", "13800138000"), "")
	require.NoError(t, err)
	assert.Equal(t, "DD00001", first.OrderID)
	assert.Regexp(t, orderIDPattern, first.OrderID)
	assert.Equal(t, "2024-12-31 16:00", first.TradingTime)
	assert.Equal(t, types.BuyerPending, first.Status)
	assert.NoError(t, validate.OrderTime(first.OrderTime).Error())
	assert.Equal(t, types.WorkReserved, workStatus(t, db, work.WorkID))

	second, err := svc.Reserve(ctx, reservation(work.WorkID, "李四", "13900139000"), "")
	require.NoError(t, err, "a reserved work accepts more buyers")
	assert.Greater(t, second.OrderID, first.OrderID)

	stored, err := svc.GetBuyer(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "测试", stored.BuyerName)
	assert.Equal(t, work.WorkID, stored.WorkID)

	buyers, err := svc.ListBuyers(ctx, work.WorkID)
	require.NoError(t, err)
	require.Len(t, buyers, 2)
	assert.Equal(t, first.OrderID, buyers[0].OrderID)
}

func TestReserveRejects(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "台灯", "20")

	tests := []struct {
		name    string
		form    ReservationForm
		wantErr error
	}{
		{"bad phone", reservation(work.WorkID, "张三", "1380013800"), validate.ErrInvalidArgument},
		{"long name", reservation(work.WorkID, "张三李四王五", "13800138000"), validate.ErrInvalidArgument},
		{"impossible date", func() ReservationForm {
			f := reservation(work.WorkID, "张三", "13800138000")
			f.TradingTime = "2024-02-30 10:00"
			return f
		}(), validate.ErrInvalidArgument},
		{"long address", func() ReservationForm {
			f := reservation(work.WorkID, "张三", "13800138000")
			f.Address = strings.Repeat("地", validate.MaxAddressLength+1)
			return f
		}(), validate.ErrInvalidArgument},
		{"missing work", reservation(4242, "张三", "13800138000"), ErrWorkNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, tt.form, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := svc.ConfirmTrade(ctx, work.WorkID, "")
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, reservation(work.WorkID, "张三", "13800138000"), "")
	assert.ErrorIs(t, err, ErrWorkUnavailable)

	buyers, err := svc.ListBuyers(ctx, work.WorkID)
	require.NoError(t, err)
	assert.Empty(t, buyers, "rejected submissions leave no buyer behind")
}

func TestReserveIdempotent(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "自行车", "150")
	form := reservation(work.WorkID, "测试", "13800138000")

	first, err := svc.Reserve(ctx, form, "key-1")
	require.NoError(t, err)
	replay, err := svc.Reserve(ctx, form, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, replay.OrderID)

	other, err := svc.Reserve(ctx, form, "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, other.OrderID)

	buyers, err := svc.ListBuyers(ctx, work.WorkID)
	require.NoError(t, err)
	assert.Len(t, buyers, 2)

	// once expired the key creates a new reservation
	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	again, err := svc.Reserve(ctx, form, "key-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, again.OrderID)
}

func TestOrderIDsIncrease(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "旧书", "5")

	prev := ""
	for i := 0; i < 5; i++ {
		buyer, err := svc.Reserve(ctx, reservation(work.WorkID, "测试", "13800138000"), "")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("DD%05d", i+1), buyer.OrderID)
		assert.Greater(t, buyer.OrderID, prev)
		prev = buyer.OrderID
	}
}

func TestNextOrderIDExhausted(t *testing.T) {
	svc, db := setup(t)
	require.NoError(t, db.Create(&types.OrderSequence{Prefix: "DD", LastValue: maxOrderSequence}).Error)

	work := createWork(t, db, "旧书", "5")
	_, err := svc.Reserve(context.Background(), reservation(work.WorkID, "测试", "13800138000"), "")
	assert.ErrorIs(t, err, ErrOrderIDExhausted)
	assert.Equal(t, types.WorkAvailable, workStatus(t, db, work.WorkID))
}

func TestConfirmTrade(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "测试商品", "299.99")

	first, err := svc.Reserve(ctx, reservation(work.WorkID, "测试", "13800138000"), "")
	require.NoError(t, err)
	second, err := svc.Reserve(ctx, reservation(work.WorkID, "李四", "13900139000"), "")
	require.NoError(t, err)

	order, err := svc.ConfirmTrade(ctx, work.WorkID, "")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, first.OrderID, order.OrderNumber, "earliest pending buyer wins")
	assert.True(t, strings.HasPrefix(order.TradeID, "TRD_"))
	assert.Equal(t, types.OrderCompleted, order.Status)
	assert.True(t, decimal.RequireFromString("299.99").Equal(order.Price))
	assert.Equal(t, types.WorkSold, workStatus(t, db, work.WorkID))

	traded, err := svc.GetBuyer(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyerTraded, traded.Status)

	_, err = svc.ConfirmTrade(ctx, work.WorkID, second.OrderID)
	assert.ErrorIs(t, err, ErrWorkUnavailable)

	pending, err := svc.GetBuyer(ctx, second.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyerPending, pending.Status, "failed sale rolls back")

	_, err = svc.TradeByOrderID(ctx, first.OrderID)
	assert.ErrorIs(t, err, ErrWorkUnavailable)
}

func TestConfirmTradeWithoutBuyers(t *testing.T) {
	svc, db := setup(t)
	work := createWork(t, db, "台灯", "15")

	order, err := svc.ConfirmTrade(context.Background(), work.WorkID, "")
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Equal(t, types.WorkSold, workStatus(t, db, work.WorkID))

	orders, err := svc.SearchHistory(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestConfirmTradeRejects(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	lamp := createWork(t, db, "台灯", "15")
	bike := createWork(t, db, "自行车", "150")

	buyer, err := svc.Reserve(ctx, reservation(lamp.WorkID, "测试", "13800138000"), "")
	require.NoError(t, err)

	_, err = svc.ConfirmTrade(ctx, bike.WorkID, buyer.OrderID)
	assert.ErrorIs(t, err, ErrBuyerNotFound)

	_, err = svc.ConfirmTrade(ctx, lamp.WorkID, "DD99999")
	assert.ErrorIs(t, err, ErrBuyerNotFound)

	_, err = svc.ConfirmTrade(ctx, 4242, "")
	assert.ErrorIs(t, err, ErrWorkNotFound)

	_, err = svc.ConfirmTrade(ctx, lamp.WorkID, "bad")
	assert.ErrorIs(t, err, validate.ErrInvalidArgument)

	assert.Equal(t, types.WorkAvailable, workStatus(t, db, bike.WorkID))
	assert.Equal(t, types.WorkReserved, workStatus(t, db, lamp.WorkID))
}

func TestConcurrentConfirmSellsOnce(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "测试商品", "299.99")

	const buyers = 8
	orderIDs := make([]string, buyers)
	for i := range orderIDs {
		b, err := svc.Reserve(ctx, reservation(work.WorkID, "测试", "13800138000"), "")
		require.NoError(t, err)
		orderIDs[i] = b.OrderID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		sold      int
		conflicts int
	)
	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			_, err := svc.TradeByOrderID(ctx, orderID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case assert.ErrorIs(t, err, ErrWorkUnavailable):
				conflicts++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, sold)
	assert.Equal(t, buyers-1, conflicts)

	orders, err := svc.SearchHistory(ctx, "")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

// A confirmation working from a snapshot taken before another sale committed
// must still be refused by the conditional status update.
func TestConfirmStaleSnapshot(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "测试商品", "299.99")

	first, err := svc.Reserve(ctx, reservation(work.WorkID, "张三", "13800138000"), "")
	require.NoError(t, err)
	second, err := svc.Reserve(ctx, reservation(work.WorkID, "李四", "13900139000"), "")
	require.NoError(t, err)

	stale, err := svc.db.getWorks(ctx, work.WorkID)
	require.NoError(t, err)
	require.Equal(t, types.WorkReserved, stale.Status)

	_, err = svc.TradeByOrderID(ctx, first.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.WorkSold, workStatus(t, db, work.WorkID))

	err = svc.db.inTx(ctx, func(tx *Database) error {
		_, err := svc.confirm(ctx, tx, stale, second.OrderID)
		return err
	})
	assert.ErrorIs(t, err, ErrWorkUnavailable)

	// the buyer update inside the refused transaction is rolled back
	buyer, err := svc.GetBuyer(ctx, second.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.BuyerPending, buyer.Status)

	orders, err := svc.SearchHistory(ctx, "")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, first.OrderID, orders[0].OrderNumber)

	err = svc.db.inTx(ctx, func(tx *Database) error {
		_, err := svc.confirm(ctx, tx, stale, first.OrderID)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	orders, err = svc.SearchHistory(ctx, "")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestModifyWorks(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "测试商品", "299.99")

	edited, order, err := svc.ModifyWorks(ctx, work.WorkID, ModifyForm{Name: "改名商品", Price: "188"})
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Equal(t, "改名商品", edited.Name)
	assert.Equal(t, "¥188.00", edited.FormattedPrice())
	assert.Equal(t, types.WorkAvailable, edited.Status)

	reserved, _, err := svc.ModifyWorks(ctx, work.WorkID, ModifyForm{Status: "reserved"})
	require.NoError(t, err)
	assert.Equal(t, types.WorkReserved, reserved.Status)
	assert.Equal(t, "改名商品", reserved.Name, "empty fields keep their value")

	_, _, err = svc.ModifyWorks(ctx, work.WorkID, ModifyForm{Status: "available"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = svc.ModifyWorks(ctx, work.WorkID, ModifyForm{Price: "-1"})
	assert.ErrorIs(t, err, validate.ErrInvalidArgument)

	_, _, err = svc.ModifyWorks(ctx, 4242, ModifyForm{Name: "x"})
	assert.ErrorIs(t, err, ErrWorkNotFound)
}

func TestModifyWorksToSold(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	work := createWork(t, db, "测试商品", "299.99")

	buyer, err := svc.Reserve(ctx, reservation(work.WorkID, "测试", "13800138000"), "")
	require.NoError(t, err)

	sold, order, err := svc.ModifyWorks(ctx, work.WorkID, ModifyForm{
		Status:      "sold",
		Name:        "测试商品",
		Description: "用于完整流程测试的商品",
		Price:       "280",
		Image:       "flow_test.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkSold, sold.Status)
	require.NotNil(t, order)
	assert.Equal(t, buyer.OrderID, order.OrderNumber)
	assert.True(t, decimal.NewFromInt(280).Equal(order.Price), "order snapshots the edited price")
	assert.Equal(t, "flow_test.jpg", order.WorkImage)

	_, _, err = svc.ModifyWorks(ctx, work.WorkID, ModifyForm{Status: "reserved"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSearchHistory(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"旧书", "台灯"} {
		work := createWork(t, db, name, "10")
		buyer, err := svc.Reserve(ctx, reservation(work.WorkID, "测试", "13800138000"), "")
		require.NoError(t, err)
		_, err = svc.TradeByOrderID(ctx, buyer.OrderID)
		require.NoError(t, err)
		ids = append(ids, buyer.OrderID)
	}

	found, err := svc.SearchHistory(ctx, strings.ToLower(ids[0]))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ids[0], found[0].OrderNumber)
	assert.Equal(t, "138****8000", found[0].User().MaskedPhone())

	all, err := svc.SearchHistory(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := svc.SearchHistory(ctx, "DD99999")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStatistics(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)

	empty, err := svc.Statistics(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalOrders)
	assert.Equal(t, "¥0", empty.FormattedTotalAmount())
	assert.Equal(t, "0.0%", empty.FormattedMonthlyGrowth())

	orders := []types.Order{
		{OrderNumber: "DD00001", BuyerPhone: "13800138000", Price: decimal.NewFromInt(100), CreatedAt: now.AddDate(0, -1, 0)},
		{OrderNumber: "DD00002", BuyerPhone: "13800138000", Price: decimal.NewFromInt(150), CreatedAt: now.AddDate(0, 0, -3)},
		{OrderNumber: "DD00003", BuyerPhone: "13900139000", Price: decimal.NewFromInt(50), CreatedAt: now},
		{OrderNumber: "DD00004", BuyerPhone: "13700137000", Price: decimal.NewFromInt(1000), CreatedAt: now.AddDate(0, -6, 0)},
	}
	for i := range orders {
		orders[i].TradeID = fmt.Sprintf("TRD_%d", i)
		orders[i].Status = types.OrderCompleted
		require.NoError(t, svc.db.createOrder(ctx, &orders[i]))
	}

	stats, err := svc.Statistics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalOrders)
	assert.Equal(t, int64(3), stats.TotalBuyers)
	assert.Equal(t, "¥1300", stats.FormattedTotalAmount())
	assert.InDelta(t, 100.0, stats.MonthlyGrowth, 0.001)
	assert.InDelta(t, 100.0, stats.OrderGrowth, 0.001)
	assert.InDelta(t, 100.0, stats.BuyerGrowth, 0.001)
	assert.True(t, stats.IsOrderGrowthPositive())

	later, err := svc.Statistics(ctx, now.AddDate(0, 3, 0))
	require.NoError(t, err)
	assert.Zero(t, later.MonthlyGrowth, "previous month without orders")
}

func TestJanitorSweep(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	now := time.Now()

	records := []types.IdempotencyRecord{
		{IdempotencyKey: "old", ResourceID: "DD00001", ResourceType: resourceReservation, ExpiresAt: now.Add(-time.Hour)},
		{IdempotencyKey: "fresh", ResourceID: "DD00002", ResourceType: resourceReservation, ExpiresAt: now.Add(time.Hour)},
	}
	require.NoError(t, db.Create(&records).Error)

	janitor := NewJanitor(svc.GetDB(), time.Minute)
	n, err := janitor.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var left []types.IdempotencyRecord
	require.NoError(t, db.Unscoped().Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].IdempotencyKey)
}

func TestJanitorStopsOnCancel(t *testing.T) {
	svc, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewJanitor(svc.GetDB(), 10*time.Millisecond).Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
