package trade

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/wuyi-market/internal/market"
	"github.com/ksred/wuyi-market/internal/types"
	"github.com/ksred/wuyi-market/pkg/response"
	"github.com/samber/lo"
)

// BuyerView is a buyer with the phone number masked for display
type BuyerView struct {
	types.Buyer
	MaskedPhone string `json:"masked_phone"`
}

func NewBuyerView(b types.Buyer) BuyerView {
	return BuyerView{Buyer: b, MaskedPhone: b.User().MaskedPhone()}
}

// OrderView is a history row
type OrderView struct {
	types.Order
	OrderTime      string        `json:"order_time"`
	FormattedPrice string        `json:"formatted_price"`
	MaskedPhone    string        `json:"masked_phone"`
	Product        types.Product `json:"product"`
}

func NewOrderView(o types.Order) OrderView {
	product := o.Product()
	return OrderView{
		Order:          o,
		OrderTime:      o.FormattedOrderTime(),
		FormattedPrice: product.FormattedPrice(),
		MaskedPhone:    o.User().MaskedPhone(),
		Product:        product,
	}
}

// StatisticsView carries the report with its display strings
type StatisticsView struct {
	types.Statistics
	FormattedTotalAmount   string `json:"formatted_total_amount"`
	FormattedMonthlyGrowth string `json:"formatted_monthly_growth"`
	FormattedOrderGrowth   string `json:"formatted_order_growth"`
	FormattedBuyerGrowth   string `json:"formatted_buyer_growth"`
	MonthlyGrowthPositive  bool   `json:"monthly_growth_positive"`
	OrderGrowthPositive    bool   `json:"order_growth_positive"`
	BuyerGrowthPositive    bool   `json:"buyer_growth_positive"`
}

func NewStatisticsView(s types.Statistics) StatisticsView {
	return StatisticsView{
		Statistics:             s,
		FormattedTotalAmount:   s.FormattedTotalAmount(),
		FormattedMonthlyGrowth: s.FormattedMonthlyGrowth(),
		FormattedOrderGrowth:   s.FormattedOrderGrowth(),
		FormattedBuyerGrowth:   s.FormattedBuyerGrowth(),
		MonthlyGrowthPositive:  s.IsMonthlyGrowthPositive(),
		OrderGrowthPositive:    s.IsOrderGrowthPositive(),
		BuyerGrowthPositive:    s.IsBuyerGrowthPositive(),
	}
}

// GinHandlers contains HTTP handlers for reservation, trade and history endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trade endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ReserveHandler handles POST requests from the buyer form.
// An optional Idempotency-Key header makes resubmission safe.
func (h *GinHandlers) ReserveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var form ReservationForm
		if err := c.ShouldBind(&form); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		buyer, err := h.service.Reserve(c.Request.Context(), form, c.GetHeader("Idempotency-Key"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{
			"order_id": buyer.OrderID,
			"buyer":    NewBuyerView(*buyer),
		})
	}
}

// GetReservationHandler handles GET requests for one buyer
// URL parameter: order_id
func (h *GinHandlers) GetReservationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		buyer, err := h.service.GetBuyer(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewBuyerView(*buyer))
	}
}

// TradeHandler handles POST requests confirming the sale to one buyer
// URL parameter: order_id
func (h *GinHandlers) TradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.TradeByOrderID(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewOrderView(*order))
	}
}

// ModifyWorksHandler handles POST requests from the seller edit form
// URL parameter: work_id
func (h *GinHandlers) ModifyWorksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workID, err := strconv.Atoi(c.Param("work_id"))
		if err != nil {
			response.BadRequest(c, "work_id must be a number")
			return
		}

		var form ModifyForm
		if err := c.ShouldBind(&form); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		works, order, err := h.service.ModifyWorks(c.Request.Context(), workID, form)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		all, err := h.service.ListWorks(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		data := gin.H{
			"work":  market.NewWorksView(*works),
			"works": market.NewWorksViews(all),
		}
		if order != nil {
			data["order"] = NewOrderView(*order)
		}
		response.Success(c, data)
	}
}

// ListBuyersHandler handles GET requests for the buyers interested in a listing
// URL parameter: work_id
func (h *GinHandlers) ListBuyersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workID, err := strconv.Atoi(c.Param("work_id"))
		if err != nil {
			response.BadRequest(c, "work_id must be a number")
			return
		}

		buyers, err := h.service.ListBuyers(c.Request.Context(), workID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, lo.Map(buyers, func(b types.Buyer, _ int) BuyerView { return NewBuyerView(b) }))
	}
}

// HistoryHandler handles GET requests for the order history
// Query parameter: search
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.SearchHistory(c.Request.Context(), c.Query("search"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, lo.Map(orders, func(o types.Order, _ int) OrderView { return NewOrderView(o) }))
	}
}

func (h *GinHandlers) StatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.Statistics(c.Request.Context(), h.service.now())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewStatisticsView(stats))
	}
}
