package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/wuyi-market/internal/config"
	"github.com/ksred/wuyi-market/internal/market"
	"github.com/ksred/wuyi-market/internal/metrics"
	"github.com/ksred/wuyi-market/internal/trade"
	"github.com/ksred/wuyi-market/pkg/middleware"
	"github.com/ksred/wuyi-market/pkg/response"
	"gorm.io/gorm"
)

// NewRouter builds the services and registers every HTTP route
func NewRouter(cfg *config.Config, db *gorm.DB, m *metrics.Metrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Observe(m))
	router.Use(middleware.NewRateLimiter(cfg.Trade.RequestsPerMinute).Handler())

	marketHandlers := market.NewGinHandlers(market.NewService(db, m))
	tradeHandlers := trade.NewGinHandlers(trade.NewService(db, m, cfg.Trade.OrderPrefix, cfg.Trade.IdempotencyTTL))

	setupRoutes(router, marketHandlers, tradeHandlers)

	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/healthz", healthHandler(db))
	return router
}

// setupRoutes groups the API by resource:
// - works: listing, editing and interested buyers
// - reservations: buyer submissions and trade confirmation
// - orders / statistics: history and reporting
func setupRoutes(router *gin.Engine, marketHandlers *market.GinHandlers, tradeHandlers *trade.GinHandlers) {
	v1 := router.Group("/api/v1")
	{
		works := v1.Group("/works")
		{
			works.POST("", marketHandlers.CreateWorksHandler())
			works.GET("", marketHandlers.ListWorksHandler())
			works.GET("/:work_id", marketHandlers.GetWorksHandler())
			works.POST("/:work_id", tradeHandlers.ModifyWorksHandler())
			works.GET("/:work_id/buyers", tradeHandlers.ListBuyersHandler())
		}

		reservations := v1.Group("/reservations")
		{
			reservations.POST("", tradeHandlers.ReserveHandler())
			reservations.GET("/:order_id", tradeHandlers.GetReservationHandler())
			reservations.POST("/:order_id/trade", tradeHandlers.TradeHandler())
		}

		v1.GET("/orders", tradeHandlers.HistoryHandler())
		v1.GET("/statistics", tradeHandlers.StatisticsHandler())
	}
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Success: false,
				Error:   &response.Error{Code: response.ErrCodeInternalError, Message: "database unavailable"},
			})
			return
		}
		response.Success(c, gin.H{"status": "ok"})
	}
}
