// Package httpapi wires the search pipeline, progress registry, quota
// service and sanctions/archive stores behind the HTTP surface spec.md
// §5 describes: POST /v1/buscar, the timeline/status/events endpoints,
// the admin search-trace endpoint, and the PNCP source health summary.
//
// Grounded on the teacher's internal/sales/interfaces/http package
// shape (a Handler struct holding every use case/service dependency,
// decodeJSON/getUUIDParam helpers, RegisterRoutes building one chi
// sub-router per resource).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjsasakifln/bidiq/internal/filter"
	"github.com/tjsasakifln/bidiq/internal/pipeline"
	"github.com/tjsasakifln/bidiq/internal/progress"
	"github.com/tjsasakifln/bidiq/internal/quota"
	"github.com/tjsasakifln/bidiq/internal/search"
	"github.com/tjsasakifln/bidiq/internal/source"
	"github.com/tjsasakifln/bidiq/pkg/auth"
	"github.com/tjsasakifln/bidiq/pkg/errors"
	"github.com/tjsasakifln/bidiq/pkg/logger"
	"github.com/tjsasakifln/bidiq/pkg/middleware"
	"github.com/tjsasakifln/bidiq/pkg/response"
	"github.com/tjsasakifln/bidiq/pkg/validator"
)

// Handler holds every collaborator the search API needs. Built once at
// startup and shared across requests; every field is itself safe for
// concurrent use.
type Handler struct {
	orchestrator *pipeline.Orchestrator
	searchRepo   search.Repository
	progress     *progress.Registry
	quotaSvc     *quota.Service
	health       *source.HealthRegistry
	jwt          *auth.JWTManager
	adminIDs     map[string]struct{}
	log          *logger.Logger
}

// Dependencies bundles Handler's constructor arguments.
type Dependencies struct {
	Orchestrator *pipeline.Orchestrator
	SearchRepo   search.Repository
	Progress     *progress.Registry
	QuotaSvc     *quota.Service
	Health       *source.HealthRegistry
	JWT          *auth.JWTManager
	AdminIDs     map[string]struct{}
	Log          *logger.Logger
}

// NewHandler builds a Handler from its Dependencies.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		orchestrator: deps.Orchestrator,
		searchRepo:   deps.SearchRepo,
		progress:     deps.Progress,
		quotaSvc:     deps.QuotaSvc,
		health:       deps.Health,
		jwt:          deps.JWT,
		adminIDs:     deps.AdminIDs,
		log:          deps.Log,
	}
}

// RegisterRoutes mounts every search API route onto r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(h.jwt))

		r.Post("/buscar", h.CreateSearch)

		r.Route("/buscar/{searchID}", func(r chi.Router) {
			r.Get("/timeline", h.GetTimeline)
			r.Get("/status", h.GetStatus)
			r.Get("/events", h.StreamEvents)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.adminIDs))
			r.Get("/search-trace/{searchID}", h.GetSearchTrace)
		})
	})

	r.Get("/api/pncp-stats", h.GetSourceStats)
}

// createSearchRequest is the body of POST /v1/buscar.
type createSearchRequest struct {
	SectorID        string     `json:"setor_id" validate:"omitempty"`
	CustomTerms     []string   `json:"termos_customizados" validate:"omitempty,dive,min=1"`
	UFs             []string   `json:"ufs" validate:"required,min=1,dive,len=2"`
	DateFrom        *time.Time `json:"data_de"`
	DateTo          *time.Time `json:"data_ate"`
	StatusFilters   []string   `json:"status"`
	ModalityFilters []int      `json:"modalidades"`
	ValorMin        float64    `json:"valor_min"`
	ValorMax        float64    `json:"valor_max"`
	Esferas         []string   `json:"esferas"`
	Municipios      []string   `json:"municipios"`
	OpenOnly        bool       `json:"apenas_abertos"`
	Ordering        string     `json:"ordenacao"`
	AllowRelaxation bool       `json:"permitir_relaxamento"`
}

// CreateSearch handles POST /v1/buscar, spec.md §4.11's entrypoint: runs
// the full 8-stage pipeline synchronously and returns the finished
// search (or its failure state).
func (h *Handler) CreateSearch(w http.ResponseWriter, r *http.Request) {
	userID, err := h.requireUserID(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req createSearchRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	result, err := h.orchestrator.Run(r.Context(), pipeline.Request{
		UserID:           userID,
		SectorID:         req.SectorID,
		CustomTerms:      req.CustomTerms,
		UFs:              req.UFs,
		DateFrom:         req.DateFrom,
		DateTo:           req.DateTo,
		StatusFilters:    req.StatusFilters,
		ModalityFilters:  req.ModalityFilters,
		ValorMin:         req.ValorMin,
		ValorMax:         req.ValorMax,
		Esferas:          req.Esferas,
		Municipios:       req.Municipios,
		OpenOnly:         req.OpenOnly,
		Ordering:         filter.Ordering(req.Ordering),
		AllowRelaxation:  req.AllowRelaxation,
		UseRedisProgress: true,
	})
	if err != nil {
		response.Error(w, h.toAppError(err))
		return
	}

	response.Created(w, result)
}

// GetTimeline handles GET /v1/buscar/{searchID}/timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	searchID, err := parseUUIDParam(r, "searchID")
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	timeline, err := h.searchRepo.GetTimeline(r.Context(), searchID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	response.OK(w, timeline)
}

// GetStatus handles GET /v1/buscar/{searchID}/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	searchID, err := parseUUIDParam(r, "searchID")
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	status, err := h.searchRepo.GetStatus(r.Context(), searchID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if status == nil {
		response.NotFound(w, "search")
		return
	}
	response.OK(w, status)
}

// StreamEvents handles GET /v1/buscar/{searchID}/events, the SSE
// progress stream spec.md §4.8 describes. Streaming stops when the
// tracker reports completion, the client disconnects, or no tracker is
// found for the search (404).
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	searchID := chi.URLParam(r, "searchID")
	if searchID == "" {
		response.BadRequest(w, "search id is required")
		return
	}

	tracker := h.progress.Get(r.Context(), searchID)
	if tracker == nil {
		response.NotFound(w, "search")
		return
	}

	done := make(chan struct{})
	go func() {
		<-r.Context().Done()
		close(done)
	}()

	response.Stream(w, tracker.Events(), done)
}

// GetSearchTrace handles GET /v1/admin/search-trace/{searchID},
// exposing a search's persisted row plus its full transition log for
// operator debugging. Mounted behind
// middleware.RequireAdmin.
func (h *Handler) GetSearchTrace(w http.ResponseWriter, r *http.Request) {
	searchID, err := parseUUIDParam(r, "searchID")
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	s, err := h.searchRepo.GetByID(r.Context(), searchID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if s == nil {
		response.NotFound(w, "search")
		return
	}

	timeline, err := h.searchRepo.GetTimeline(r.Context(), searchID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.OK(w, map[string]interface{}{
		"search":   s,
		"timeline": timeline,
	})
}

// GetSourceStats handles GET /api/pncp-stats, reporting every
// registered source's current health status (spec.md §4.2's
// HealthRegistry-backed status surface).
func (h *Handler) GetSourceStats(w http.ResponseWriter, r *http.Request) {
	codes := []string{"PNCP", "PORTAL_COMPRAS", "COMPRAS_GOV"}
	stats := make(map[string]string, len(codes))
	for _, code := range codes {
		stats[code] = string(h.health.Status(code))
	}
	response.OK(w, stats)
}

func (h *Handler) requireUserID(r *http.Request) (uuid.UUID, error) {
	raw, ok := auth.UserIDFromContext(r.Context())
	if !ok || raw == "" {
		return uuid.UUID{}, errors.ErrUnauthorized("authentication required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.ErrUnauthorized("invalid user id in token")
	}
	return userID, nil
}

func (h *Handler) toAppError(err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.ErrInternalWrap(err, "search failed")
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.ErrBadRequest("invalid " + name)
	}
	return id, nil
}
