package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/metrics"
	"github.com/banking/ewa-risk-service/internal/pkg/logger"
	"github.com/banking/ewa-risk-service/internal/pkg/telemetry"
)

// NewServer builds the echo instance with middleware and all routes
func NewServer(h *Handler, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = ErrorHandler(log)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestContext())
	e.Use(requestLogger(log, m))
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Security.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	if cfg.Server.MaxRequestSize != "" {
		e.Use(middleware.BodyLimit(cfg.Server.MaxRequestSize))
	}
	if perMinute := cfg.Security.RateLimitPerMinute; perMinute > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(float64(perMinute) / 60),
				Burst:     perMinute,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}

	Register(e, h, []byte(cfg.Security.JWTSecret), cfg.Security.AdminRole)
	return e
}

// Register mounts the API routes
func Register(e *echo.Echo, h *Handler, jwtSecret []byte, adminRole string) {
	e.GET("/health", h.Health)

	v1 := e.Group("/api/v1")
	v1.GET("/risk/factors/:entity_type", h.GetFactors)
	v1.GET("/risk/industries", h.GetIndustries)
	v1.GET("/risk/ratings", h.GetRatingBands)

	// scores and their audit trail are admin only
	admin := RequireRole(jwtSecret, adminRole)
	authenticated := RequireToken(jwtSecret, adminRole)

	scores := v1.Group("/risk-scores")
	scores.GET("/:entity_type/:id", h.GetCurrent, admin)
	scores.GET("/:entity_type/:id/history", h.GetHistory, admin)
	scores.GET("/:entity_type/:id/summary", h.GetSummary, authenticated)
	scores.POST("/employer/:id", h.ScoreEmployer, admin)
	scores.POST("/employee/:id", h.ScoreEmployee, admin)

	v1.POST("/advances/quote", h.QuoteAdvance, authenticated)

	adminGroup := e.Group("/api/admin", admin)
	adminGroup.PATCH("/employers/:id/risk-score", h.OverrideEmployer)
	adminGroup.PATCH("/employees/:id/risk-score", h.OverrideEmployee)
}

// requestContext starts the server span, continuing any propagated trace, and
// copies the request, trace and span ids into the request context for logging.
func requestContext() echo.MiddlewareFunc {
	tracer := telemetry.Tracer("ewa-risk-service/http")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", c.Path()),
				))
			defer span.End()

			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				ctx = context.WithValue(ctx, logger.RequestIDKey, id)
			}
			if sc := span.SpanContext(); sc.IsValid() {
				ctx = context.WithValue(ctx, logger.TraceIDKey, sc.TraceID().String())
				ctx = context.WithValue(ctx, logger.SpanIDKey, sc.SpanID().String())
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			telemetry.RecordError(span, err)
			return err
		}
	}
}

// requestLogger logs each request through zap and records HTTP metrics
func requestLogger(log *logger.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	log = log.Named("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if m != nil {
				m.ObserveHTTP(v.Method, v.RoutePath, v.Status, v.Latency)
			}

			l := log.WithContext(c.Request().Context())
			fields := []logger.Field{
				logger.StringField("method", v.Method),
				logger.StringField("uri", v.URI),
				logger.IntField("status", v.Status),
				logger.DurationField("latency", v.Latency),
				logger.StringField("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, logger.ErrorField(v.Error))
				l.Warn("request", fields...)
				return nil
			}
			l.Info("request", fields...)
			return nil
		},
	})
}
