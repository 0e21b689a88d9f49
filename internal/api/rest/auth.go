package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/banking/ewa-risk-service/internal/pkg/logger"
)

const (
	reviewerContextKey = "reviewer"
	subjectContextKey  = "subject"
	adminContextKey    = "is_admin"
)

// Claims are the JWT claims issued by the platform's auth service
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// RequireRole rejects requests without a valid HS256 bearer token carrying
// the given role. The token subject becomes the reviewer id.
func RequireRole(secret []byte, role string) echo.MiddlewareFunc {
	parser := newParser()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := authenticate(parser, secret, c.Request())
			if err != nil {
				return err
			}
			if !strings.EqualFold(claims.Role, role) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}

			reviewer := principal(claims)
			c.Set(reviewerContextKey, reviewer)
			c.Set(subjectContextKey, reviewer)
			c.Set(adminContextKey, true)

			req := c.Request()
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), logger.ReviewerKey, reviewer)))
			return next(c)
		}
	}
}

// RequireToken accepts any valid bearer token. Handlers restrict non admin
// callers to their own entity with authorizeEntity.
func RequireToken(secret []byte, adminRole string) echo.MiddlewareFunc {
	parser := newParser()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := authenticate(parser, secret, c.Request())
			if err != nil {
				return err
			}
			c.Set(subjectContextKey, principal(claims))
			c.Set(adminContextKey, strings.EqualFold(claims.Role, adminRole))
			return next(c)
		}
	}
}

func newParser() *jwt.Parser {
	return jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
}

func authenticate(parser *jwt.Parser, secret []byte, r *http.Request) (*Claims, error) {
	if len(secret) == 0 {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication is not configured")
	}
	raw, err := bearerToken(r)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	claims := &Claims{}
	_, err = parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}
	return claims, nil
}

func principal(claims *Claims) string {
	if claims.Subject != "" {
		return claims.Subject
	}
	return claims.Email
}

// authorizeEntity lets admins through and everyone else only to the entity
// named by their token subject.
func authorizeEntity(c echo.Context, entityID uuid.UUID) error {
	if admin, _ := c.Get(adminContextKey).(bool); admin {
		return nil
	}
	subject, _ := c.Get(subjectContextKey).(string)
	if subject == "" || subject != entityID.String() {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to access this entity")
	}
	return nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}

func reviewerFrom(c echo.Context) string {
	reviewer, _ := c.Get(reviewerContextKey).(string)
	return reviewer
}
