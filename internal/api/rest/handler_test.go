package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/banking/ewa-risk-service/internal/assessment"
	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/domain"
	"github.com/banking/ewa-risk-service/internal/events"
	"github.com/banking/ewa-risk-service/internal/metrics"
	"github.com/banking/ewa-risk-service/internal/pkg/logger"
	"github.com/banking/ewa-risk-service/internal/repository/memory"
	"github.com/banking/ewa-risk-service/internal/scoring"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{MaxRequestSize: "1M"},
		Scoring:  config.ScoringConfig{CascadeWorkers: 2, HistoryLimit: 20},
		Security: config.SecurityConfig{JWTSecret: testSecret, AdminRole: "admin", AllowedOrigins: []string{"*"}},
	}
	log := logger.Wrap(zaptest.NewLogger(t), "test")
	m := metrics.New()

	svc := assessment.NewService(
		scoring.NewEngine(&cfg.Scoring),
		memory.NewSnapshotRepository(),
		nil,
		events.Noop{},
		m,
		&cfg.Scoring,
		log,
	)
	return NewServer(NewHandler(svc), cfg, log, m)
}

func token(t *testing.T, role, subject, secret string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func adminToken(t *testing.T) string {
	return token(t, "admin", "admin-42", testSecret, time.Hour)
}

func do(t *testing.T, e *echo.Echo, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func uniform(t *testing.T, entityType domain.EntityType, score float64) domain.FactorScores {
	t.Helper()
	schema, err := scoring.Factors(entityType)
	require.NoError(t, err)
	out := domain.FactorScores{}
	for _, c := range schema.Categories {
		out[c.Name] = map[string]float64{}
		for _, f := range c.Factors {
			out[c.Name][f.Key] = score
		}
	}
	return out
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	rec := do(t, e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestGetFactors(t *testing.T) {
	e := newTestServer(t)

	rec := do(t, e, http.MethodGet, "/api/v1/risk/factors/employee", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schema := decode[scoring.Schema](t, rec)
	assert.Equal(t, domain.EntityTypeEmployee, schema.EntityType)
	assert.Len(t, schema.Categories, 3)

	rec = do(t, e, http.MethodGet, "/api/v1/risk/factors/contractor", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ENTITY_TYPE", decode[APIError](t, rec).Code)
}

func TestGetIndustriesAndRatings(t *testing.T) {
	e := newTestServer(t)

	rec := do(t, e, http.MethodGet, "/api/v1/risk/industries", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	industries := decode[[]scoring.IndustryRating](t, rec)
	assert.NotEmpty(t, industries)

	rec = do(t, e, http.MethodGet, "/api/v1/risk/ratings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Very High Risk")
}

func TestScoreAndReadBack(t *testing.T) {
	e := newTestServer(t)
	employerID, employeeID := uuid.New(), uuid.New()
	bearer := adminToken(t)

	rec := do(t, e, http.MethodPost, "/api/v1/risk-scores/employer/"+employerID.String(), bearer,
		domain.ScoreEmployerRequest{FactorScores: uniform(t, domain.EntityTypeEmployer, 3)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	employer := decode[ScoreResponse](t, rec)
	assert.InDelta(t, 3.0, employer.RiskScore, 1e-9)
	assert.Equal(t, "Medium Risk", employer.RiskLabel)
	require.NotNil(t, employer.Cascade)

	rec = do(t, e, http.MethodPost, "/api/v1/risk-scores/employee/"+employeeID.String(), bearer,
		domain.ScoreEmployeeRequest{FactorScores: uniform(t, domain.EntityTypeEmployee, 5), EmployerID: employerID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	employee := decode[ScoreResponse](t, rec)
	assert.InDelta(t, 4.2, employee.RiskScore, 1e-9)
	assert.Equal(t, domain.RatingA, employee.Rating)
	assert.InDelta(t, 3.98, employee.FeePercentage, 1e-9)

	rec = do(t, e, http.MethodGet, "/api/v1/risk-scores/employee/"+employeeID.String(), bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, employee.ID, decode[ScoreResponse](t, rec).ID)

	rec = do(t, e, http.MethodGet, "/api/v1/risk-scores/employer/"+employerID.String()+"/history?limit=5", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		History []domain.EntityScoreSnapshot `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.History, 1)
}

func TestScoreEmployer_Errors(t *testing.T) {
	e := newTestServer(t)
	bearer := adminToken(t)
	path := "/api/v1/risk-scores/employer/" + uuid.New().String()

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"out of range", path, domain.ScoreEmployerRequest{FactorScores: domain.FactorScores{"operational": {"churn_rate": 9}}}, http.StatusBadRequest, "SCORE_OUT_OF_RANGE"},
		{"unknown factor", path, domain.ScoreEmployerRequest{FactorScores: domain.FactorScores{"operational": {"vibes": 3}}}, http.StatusBadRequest, "UNKNOWN_FACTOR"},
		{"missing factor scores", path, map[string]string{"industry": "retail"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad id", "/api/v1/risk-scores/employer/not-a-uuid", domain.ScoreEmployerRequest{FactorScores: domain.FactorScores{}}, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, http.MethodPost, tt.path, bearer, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[APIError](t, rec).Code)
		})
	}
}

func TestGetCurrent_NotFound(t *testing.T) {
	e := newTestServer(t)
	rec := do(t, e, http.MethodGet, "/api/v1/risk-scores/employer/"+uuid.New().String(), adminToken(t), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[APIError](t, rec).Code)
}

func TestAdminAuth(t *testing.T) {
	e := newTestServer(t)
	path := "/api/admin/employers/" + uuid.New().String() + "/risk-score"
	body := domain.OverrideRiskScoreRequest{RiskScore: ptr(3.5), Reason: "manual review"}

	tests := []struct {
		name   string
		bearer string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong secret", token(t, "admin", "a", "other-secret", time.Hour), http.StatusUnauthorized},
		{"expired", token(t, "admin", "a", testSecret, -time.Minute), http.StatusUnauthorized},
		{"not admin", token(t, "employee", "a", testSecret, time.Hour), http.StatusForbidden},
		{"admin", adminToken(t), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, http.MethodPatch, path, tt.bearer, body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAdminAuth_RejectsOtherAlgorithms(t *testing.T) {
	e := newTestServer(t)
	claims := Claims{Role: "admin"}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	rec := do(t, e, http.MethodPatch, "/api/admin/employees/"+uuid.New().String()+"/risk-score", unsigned,
		domain.OverrideRiskScoreRequest{RiskScore: ptr(3), Reason: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOverride(t *testing.T) {
	e := newTestServer(t)
	id := uuid.New()
	path := "/api/admin/employees/" + id.String() + "/risk-score"

	rec := do(t, e, http.MethodPatch, path, adminToken(t), domain.OverrideRiskScoreRequest{RiskScore: ptr(3.5), Reason: "documents verified"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ScoreResponse](t, rec)
	assert.Equal(t, 3.5, resp.RiskScore)
	assert.Equal(t, domain.RatingB, resp.Rating)
	assert.InDelta(t, 4.4, resp.FeePercentage, 1e-9)
	assert.Equal(t, domain.SourceOverride, resp.Source)
	assert.Equal(t, "admin-42", resp.ReviewedBy)
	assert.Equal(t, "documents verified", resp.ReviewerReason)

	rec = do(t, e, http.MethodPatch, path, adminToken(t), map[string]interface{}{"risk_score": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPatch, path, adminToken(t), map[string]interface{}{"risk_score": 7, "reason": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadRoutesRequireAdmin(t *testing.T) {
	e := newTestServer(t)
	id := uuid.New()
	employeeToken := token(t, "employee", id.String(), testSecret, time.Hour)

	for _, path := range []string{
		"/api/v1/risk-scores/employee/" + id.String(),
		"/api/v1/risk-scores/employee/" + id.String() + "/history",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, e, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			// even for the employee's own record
			rec = do(t, e, http.MethodGet, path, employeeToken, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestGetSummary(t *testing.T) {
	e := newTestServer(t)
	employeeID := uuid.New()

	rec := do(t, e, http.MethodPatch, "/api/admin/employees/"+employeeID.String()+"/risk-score", adminToken(t),
		domain.OverrideRiskScoreRequest{RiskScore: ptr(4.5), Reason: "verified payroll"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	path := "/api/v1/risk-scores/employee/" + employeeID.String() + "/summary"

	rec = do(t, e, http.MethodGet, path, token(t, "employee", employeeID.String(), testSecret, time.Hour), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.RiskScoreSummary](t, rec)
	assert.Equal(t, employeeID, summary.EntityID)
	assert.Equal(t, 4.5, summary.RiskScore)
	assert.Equal(t, domain.RatingA, summary.Rating)
	assert.Equal(t, "Low Risk", summary.RatingLabel)
	assert.NotContains(t, rec.Body.String(), "verified payroll")

	rec = do(t, e, http.MethodGet, path, token(t, "employee", uuid.NewString(), testSecret, time.Hour), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, e, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, e, http.MethodGet, path, adminToken(t), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuoteAdvance(t *testing.T) {
	e := newTestServer(t)
	employeeID := uuid.New()
	bearer := token(t, "employee", employeeID.String(), testSecret, time.Hour)

	rec := do(t, e, http.MethodPost, "/api/v1/advances/quote", bearer, map[string]interface{}{
		"employee_id": employeeID,
		"amount":      "10000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[domain.AdvanceQuote](t, rec)
	assert.False(t, quote.Scored)
	assert.Equal(t, "470", quote.FeeAmount.String())
	assert.Equal(t, "9530", quote.NetAmount.String())

	rec = do(t, e, http.MethodPost, "/api/v1/advances/quote", bearer, map[string]interface{}{
		"employee_id": employeeID,
		"amount":      "-5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/v1/advances/quote", bearer, map[string]interface{}{"amount": "5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteAdvance_Auth(t *testing.T) {
	e := newTestServer(t)
	employeeID := uuid.New()
	body := map[string]interface{}{"employee_id": employeeID, "amount": "100"}

	tests := []struct {
		name   string
		bearer string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"expired", token(t, "employee", employeeID.String(), testSecret, -time.Minute), http.StatusUnauthorized},
		{"another employee", token(t, "employee", uuid.NewString(), testSecret, time.Hour), http.StatusForbidden},
		{"own quote", token(t, "employee", employeeID.String(), testSecret, time.Hour), http.StatusOK},
		{"admin", adminToken(t), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, http.MethodPost, "/api/v1/advances/quote", tt.bearer, body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRequestContext_CarriesTraceIDs(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	e := echo.New()
	e.Use(middleware.RequestID(), requestContext())

	var traceID, spanID, requestID string
	e.GET("/entities/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		traceID, _ = ctx.Value(logger.TraceIDKey).(string)
		spanID, _ = ctx.Value(logger.SpanIDKey).(string)
		requestID, _ = ctx.Value(logger.RequestIDKey).(string)
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /entities/:id", ended[0].Name())
	assert.Equal(t, ended[0].SpanContext().TraceID().String(), traceID)
	assert.Equal(t, ended[0].SpanContext().SpanID().String(), spanID)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), requestID)
}

func ptr(v float64) *float64 { return &v }
