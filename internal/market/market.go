package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/wuyi-market/internal/metrics"
	"github.com/ksred/wuyi-market/internal/types"
	"github.com/ksred/wuyi-market/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// ErrWorkNotFound is returned when a work id names no listing
var ErrWorkNotFound = fmt.Errorf("work not found: %w", response.ErrNotFound)

// ListingForm carries the fields of the "put on sale" form
type ListingForm struct {
	Status      string `form:"work_status" json:"work_status"`
	Name        string `form:"work_name" json:"work_name"`
	Description string `form:"work_description" json:"work_description"`
	Price       string `form:"work_price" json:"work_price"`
	Image       string `form:"work_image" json:"work_image"`
}

// WorksView is a listing plus its presentation strings
type WorksView struct {
	types.Works
	FormattedPrice string `json:"formatted_price"`
	StatusClass    string `json:"status_class"`
}

func NewWorksView(w types.Works) WorksView {
	return WorksView{Works: w, FormattedPrice: w.FormattedPrice(), StatusClass: w.StatusClass()}
}

func NewWorksViews(works []types.Works) []WorksView {
	return lo.Map(works, func(w types.Works, _ int) WorksView { return NewWorksView(w) })
}

// Service handles listing operations
type Service struct {
	db      *Database
	metrics *metrics.Metrics
}

// NewService creates a new listing service with the given database connection
func NewService(gormDB *gorm.DB, m *metrics.Metrics) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		metrics: m,
	}
}

// CreateListing validates the form and stores a new listing.
// An empty status means the work is available.
func (s *Service) CreateListing(ctx context.Context, form ListingForm) (*types.Works, error) {
	status := lo.Ternary(form.Status == "", string(types.WorkAvailable), form.Status)
	works, err := types.NewWorks(status, form.Name, form.Description, form.Image, form.Price)
	if err != nil {
		return nil, err
	}

	if err := s.db.CreateWorks(ctx, works); err != nil {
		log.Error().Err(err).Str("service", "market").Msg("failed to create listing")
		return nil, err
	}
	s.metrics.ListingCreated()

	log.Info().
		Str("service", "market").
		Int("work_id", works.WorkID).
		Str("work_name", works.Name).
		Str("price", works.Price.StringFixed(2)).
		Msg("listing created")

	return works, nil
}

// ListWorks returns every listing
func (s *Service) ListWorks(ctx context.Context) ([]types.Works, error) {
	return s.db.SearchAll(ctx)
}

// GetWorks returns the listing or ErrWorkNotFound
func (s *Service) GetWorks(ctx context.Context, workID int) (*types.Works, error) {
	works, err := s.db.GetWorks(ctx, workID)
	if err != nil {
		return nil, err
	}
	if works == nil {
		return nil, ErrWorkNotFound
	}
	return works, nil
}

// GinHandlers contains HTTP handlers for listing endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for listing endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateWorksHandler handles POST requests that put a work on sale.
// Responds with the new work and the refreshed listing.
func (h *GinHandlers) CreateWorksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var form ListingForm
		if err := c.ShouldBind(&form); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		works, err := h.service.CreateListing(c.Request.Context(), form)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		all, err := h.service.ListWorks(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{
			"work":  NewWorksView(*works),
			"works": NewWorksViews(all),
		})
	}
}

// ListWorksHandler handles GET requests for all listings
func (h *GinHandlers) ListWorksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		works, err := h.service.ListWorks(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewWorksViews(works))
	}
}

// GetWorksHandler handles GET requests for one listing
// URL parameter: work_id
func (h *GinHandlers) GetWorksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workID, err := strconv.Atoi(c.Param("work_id"))
		if err != nil {
			response.BadRequest(c, "work_id must be a number")
			return
		}

		works, err := h.service.GetWorks(c.Request.Context(), workID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewWorksView(*works))
	}
}
