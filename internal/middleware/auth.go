package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"taskmanager/internal/auth"
	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/logger"
)

// IdentityContextKey is where verified claims are stored on the echo context.
const IdentityContextKey = "identity"

const bearerPrefix = "Bearer "

// echo-jwt matches the scheme case-insensitively, the gate only accepts the exact prefix.
var errBearerScheme = errors.New("authorization header does not start with \"Bearer \"")

// Identity is the verified requester attached by Auth.
type Identity struct {
	ID     uuid.UUID
	Claims *auth.Claims
}

// Auth verifies the bearer token on every request and attaches its claims.
// Missing or malformed credentials and expired tokens are rejected with 401, any other
// verification failure with 403.
func Auth(jwtService *auth.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  IdentityContextKey,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":" + bearerPrefix,
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderAuthorization), bearerPrefix) {
				return nil, errBearerScheme
			}
			claims, err := jwtService.Verify(token)
			if err != nil {
				return nil, err
			}
			if _, err := uuid.Parse(claims.IdentityID); err != nil {
				return nil, auth.ErrTokenInvalid
			}
			return claims, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return gateError(c, err)
		},
	})
}

func gateError(c echo.Context, err error) error {
	var (
		extractionErr *echojwt.TokenExtractionError
		failure       error
		class         string
	)
	switch {
	case errors.As(err, &extractionErr), errors.Is(err, errBearerScheme):
		failure, class = apperrors.ErrMissingCredential, "missing"
	case errors.Is(err, auth.ErrTokenExpired):
		failure, class = apperrors.ErrSessionExpired, "expired"
	default:
		failure, class = apperrors.ErrInvalidToken, "invalid"
	}

	logger.Warn("token verification failed",
		zap.String("class", class),
		zap.String("path", c.Request().URL.Path),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err),
	)

	httpErr := apperrors.MapErrorToHTTP(failure)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

// IdentityFrom returns the identity attached by Auth. Handlers behind Auth can rely on it being set.
func IdentityFrom(c echo.Context) (Identity, error) {
	claims, ok := c.Get(IdentityContextKey).(*auth.Claims)
	if !ok || claims == nil {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, apperrors.MapErrorToHTTP(apperrors.ErrMissingCredential).ToErrorResponse())
	}
	id, err := uuid.Parse(claims.IdentityID)
	if err != nil {
		return Identity{}, echo.NewHTTPError(http.StatusForbidden, apperrors.MapErrorToHTTP(apperrors.ErrInvalidToken).ToErrorResponse())
	}
	return Identity{ID: id, Claims: claims}, nil
}
