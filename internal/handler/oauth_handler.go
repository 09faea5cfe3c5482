package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"taskmanager/internal/auth"
	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/logger"
	"taskmanager/internal/service"
)

// OAuthHandler runs the third-party login round trip.
type OAuthHandler struct {
	providers   *auth.OAuthProviders
	states      auth.StateStoreInterface
	authService service.AuthService
	frontendURL string
}

// NewOAuthHandler creates a new OAuth handler. With a non-empty frontendURL successful
// callbacks redirect to the frontend dashboard instead of returning JSON.
func NewOAuthHandler(providers *auth.OAuthProviders, states auth.StateStoreInterface, authService service.AuthService, frontendURL string) *OAuthHandler {
	return &OAuthHandler{
		providers:   providers,
		states:      states,
		authService: authService,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// Begin godoc
// @Summary Start third-party login
// @Tags oauth
// @Param provider path string true "Provider" Enums(google, github)
// @Success 302
// @Failure 404 {object} errors.ErrorResponse
// @Router /auth/{provider} [get]
func (h *OAuthHandler) Begin(c echo.Context) error {
	provider, ok := h.providers.Get(c.Param("provider"))
	if !ok {
		return respondError(c, apperrors.ErrUnknownProvider)
	}

	state, err := h.states.Create(c.Request().Context(), provider.Name())
	if err != nil {
		return respondError(c, fmt.Errorf("create oauth state: %w", err))
	}
	return c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// Callback godoc
// @Summary Complete third-party login
// @Tags oauth
// @Produce json
// @Param provider path string true "Provider" Enums(google, github)
// @Param code query string true "Authorization code"
// @Param state query string true "State issued by Begin"
// @Success 200 {object} service.AuthResult
// @Success 302
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /auth/{provider}/callback [get]
func (h *OAuthHandler) Callback(c echo.Context) error {
	provider, ok := h.providers.Get(c.Param("provider"))
	if !ok {
		return respondError(c, apperrors.ErrUnknownProvider)
	}
	ctx := c.Request().Context()

	if denied := c.QueryParam("error"); denied != "" {
		return h.fail(c, provider, fmt.Errorf("provider returned %q", denied))
	}
	if err := h.states.Consume(ctx, c.QueryParam("state"), provider.Name()); err != nil {
		return h.fail(c, provider, err)
	}
	code := c.QueryParam("code")
	if code == "" {
		return h.fail(c, provider, fmt.Errorf("missing authorization code"))
	}

	profile, err := provider.Exchange(ctx, code)
	if err != nil {
		return h.fail(c, provider, err)
	}

	result, err := h.authService.LoginWithProfile(ctx, profile)
	if err != nil {
		return respondError(c, err)
	}

	if h.frontendURL != "" {
		return c.Redirect(http.StatusFound, h.frontendURL+"/dashboard#token="+url.QueryEscape(result.Token))
	}
	return c.JSON(http.StatusOK, result)
}

func (h *OAuthHandler) fail(c echo.Context, provider *auth.Provider, err error) error {
	logger.Warn("oauth callback rejected", zap.String("provider", provider.Name()), zap.Error(err))
	return respondError(c, fmt.Errorf("%w: %v", apperrors.ErrOAuthFailed, err))
}
