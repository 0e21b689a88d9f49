package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/banking/ewa-risk-service/internal/assessment"
	"github.com/banking/ewa-risk-service/internal/domain"
	"github.com/banking/ewa-risk-service/internal/scoring"
)

// AssessmentService is what the handlers need from the assessment layer
type AssessmentService interface {
	ScoreEmployer(ctx context.Context, employerID uuid.UUID, req *domain.ScoreEmployerRequest) (*domain.EntityScoreSnapshot, *assessment.CascadeSummary, error)
	ScoreEmployee(ctx context.Context, employeeID uuid.UUID, req *domain.ScoreEmployeeRequest) (*domain.EntityScoreSnapshot, error)
	Override(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, reviewer string, req *domain.OverrideRiskScoreRequest) (*domain.EntityScoreSnapshot, *assessment.CascadeSummary, error)
	Current(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error)
	History(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, limit int) ([]*domain.EntityScoreSnapshot, error)
	QuoteAdvance(ctx context.Context, req *domain.AdvanceQuoteRequest) (*domain.AdvanceQuote, error)
}

// Handler serves the risk scoring API
type Handler struct {
	svc AssessmentService
}

// NewHandler creates a handler
func NewHandler(svc AssessmentService) *Handler {
	return &Handler{svc: svc}
}

// ScoreResponse wraps a stored snapshot with its human readable label and,
// for employers, the result of the employee cascade.
type ScoreResponse struct {
	*domain.EntityScoreSnapshot
	RiskLabel string                     `json:"risk_label"`
	Cascade   *assessment.CascadeSummary `json:"cascade,omitempty"`
}

func scoreResponse(s *domain.EntityScoreSnapshot, cascade *assessment.CascadeSummary) ScoreResponse {
	return ScoreResponse{EntityScoreSnapshot: s, RiskLabel: s.RatingLabel(), Cascade: cascade}
}

// Health reports liveness
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetFactors returns the factor schema of an entity type
func (h *Handler) GetFactors(c echo.Context) error {
	entityType, err := domain.ParseEntityType(c.Param("entity_type"))
	if err != nil {
		return err
	}
	schema, err := scoring.Factors(entityType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, schema)
}

// GetIndustries returns the suggested industry risk ratings
func (h *Handler) GetIndustries(c echo.Context) error {
	return c.JSON(http.StatusOK, scoring.Industries())
}

// GetRatingBands returns the rating thresholds and labels
func (h *Handler) GetRatingBands(c echo.Context) error {
	type band struct {
		Rating   domain.Rating `json:"rating"`
		Label    string        `json:"label"`
		MinScore float64       `json:"min_score"`
	}
	thresholds := scoring.RatingThresholds()
	out := make([]band, 0, len(thresholds))
	for _, r := range []domain.Rating{domain.RatingA, domain.RatingB, domain.RatingC, domain.RatingD} {
		out = append(out, band{Rating: r, Label: r.Label(), MinScore: thresholds[r]})
	}
	return c.JSON(http.StatusOK, out)
}

// ScoreEmployer handles POST /api/v1/risk-scores/employer/:id
func (h *Handler) ScoreEmployer(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req domain.ScoreEmployerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	snap, cascade, err := h.svc.ScoreEmployer(c.Request().Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, scoreResponse(snap, cascade))
}

// ScoreEmployee handles POST /api/v1/risk-scores/employee/:id
func (h *Handler) ScoreEmployee(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req domain.ScoreEmployeeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	snap, err := h.svc.ScoreEmployee(c.Request().Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, scoreResponse(snap, nil))
}

// GetCurrent handles GET /api/v1/risk-scores/:entity_type/:id
func (h *Handler) GetCurrent(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return err
	}

	snap, err := h.svc.Current(c.Request().Context(), entityType, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scoreResponse(snap, nil))
}

// GetSummary handles GET /api/v1/risk-scores/:entity_type/:id/summary
func (h *Handler) GetSummary(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return err
	}
	if err := authorizeEntity(c, id); err != nil {
		return err
	}

	snap, err := h.svc.Current(c.Request().Context(), entityType, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.ToSummary())
}

// GetHistory handles GET /api/v1/risk-scores/:entity_type/:id/history
func (h *Handler) GetHistory(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
	}

	history, err := h.svc.History(c.Request().Context(), entityType, id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   id,
		"history":     history,
	})
}

// OverrideEmployer handles PATCH /api/admin/employers/:id/risk-score
func (h *Handler) OverrideEmployer(c echo.Context) error {
	return h.override(c, domain.EntityTypeEmployer)
}

// OverrideEmployee handles PATCH /api/admin/employees/:id/risk-score
func (h *Handler) OverrideEmployee(c echo.Context) error {
	return h.override(c, domain.EntityTypeEmployee)
}

func (h *Handler) override(c echo.Context, entityType domain.EntityType) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req domain.OverrideRiskScoreRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	snap, cascade, err := h.svc.Override(c.Request().Context(), entityType, id, reviewerFrom(c), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scoreResponse(snap, cascade))
}

// QuoteAdvance handles POST /api/v1/advances/quote
func (h *Handler) QuoteAdvance(c echo.Context) error {
	var req domain.AdvanceQuoteRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.EmployeeID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "employee_id is required")
	}
	if err := authorizeEntity(c, req.EmployeeID); err != nil {
		return err
	}

	quote, err := h.svc.QuoteAdvance(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, quote)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func entityParams(c echo.Context) (domain.EntityType, uuid.UUID, error) {
	entityType, err := domain.ParseEntityType(c.Param("entity_type"))
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := pathID(c)
	if err != nil {
		return "", uuid.Nil, err
	}
	return entityType, id, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}
