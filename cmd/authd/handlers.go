package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	authcore "github.com/aallard/CodeOps-Server-sub001"
	"github.com/aallard/CodeOps-Server-sub001/middleware"
)

type handler struct {
	engine *authcore.Engine
}

func setupRoutes(e *echo.Echo, engine *authcore.Engine) {
	h := &handler{engine: engine}

	e.Use(clientIPMiddleware)

	e.GET("/health", h.health)

	auth := e.Group("/auth")
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", h.logout)
	auth.POST("/mfa/complete", h.completeMFA)
	auth.POST("/mfa/resend", h.resendCode)

	// Routes below require a live access token.
	guarded := e.Group("", echo.WrapMiddleware(middleware.Guard(engine)))
	guarded.GET("/me", h.me)
	guarded.POST("/auth/password", h.changePassword)
	guarded.POST("/auth/mfa/setup", h.setupMFA)
	guarded.POST("/auth/mfa/verify", h.verifyMFA)
	guarded.POST("/auth/mfa/disable", h.disableMFA)
	guarded.POST("/auth/mfa/recovery-codes", h.regenerateRecoveryCodes)
}

// clientIPMiddleware stamps the caller address into the context so audit
// events carry it.
func clientIPMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := authcore.WithClientIP(req.Context(), c.RealIP())
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *handler) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.engine.Register(c.Request().Context(), authcore.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"user_id":       res.UserID,
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.engine.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}

	if res.MFARequired {
		return c.JSON(http.StatusOK, map[string]string{
			"mfa_required":    "true",
			"mfa_method":      res.MFAMethod.String(),
			"challenge_token": res.ChallengeToken,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
	})
}

type completeMFARequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

func (h *handler) completeMFA(c echo.Context) error {
	var req completeMFARequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.engine.CompleteMFALogin(c.Request().Context(), req.ChallengeToken, req.Code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
	})
}

type resendRequest struct {
	ChallengeToken string `json:"challenge_token"`
}

func (h *handler) resendCode(c echo.Context) error {
	var req resendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.engine.ResendEmailCode(c.Request().Context(), req.ChallengeToken); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handler) refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	pair, err := h.engine.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *handler) logout(c echo.Context) error {
	token, ok := bearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	if err := h.engine.Logout(c.Request().Context(), token); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) me(c echo.Context) error {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user_id":    res.UserID,
		"roles":      res.Roles,
		"expires_at": res.ExpiresAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *handler) changePassword(c echo.Context) error {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.engine.ChangePassword(c.Request().Context(), res.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type setupMFARequest struct {
	Password string `json:"password"`
	Method   string `json:"method"`
}

func (h *handler) setupMFA(c echo.Context) error {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req setupMFARequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var method authcore.MFAMethod
	switch req.Method {
	case "totp":
		method = authcore.MFATOTP
	case "email":
		method = authcore.MFAEmail
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported mfa method")
	}

	setup, err := h.engine.SetupMFA(c.Request().Context(), res.UserID, authcore.SetupMFARequest{
		Password: req.Password,
		Method:   method,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"method":           setup.Method.String(),
		"secret":           setup.SecretBase32,
		"provisioning_uri": setup.ProvisioningURI,
		"recovery_codes":   setup.RecoveryCodes,
	})
}

type verifyMFARequest struct {
	Code string `json:"code"`
}

func (h *handler) verifyMFA(c echo.Context) error {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req verifyMFARequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.engine.VerifyAndEnable(c.Request().Context(), res.UserID, req.Code); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type disableMFARequest struct {
	Password string `json:"password"`
}

func (h *handler) disableMFA(c echo.Context) error {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req disableMFARequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.engine.DisableMFA(c.Request().Context(), res.UserID, authcore.DisableMFARequest{
		Password: req.Password,
	}); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type regenerateCodesRequest struct {
	Password string `json:"password"`
}

func (h *handler) regenerateRecoveryCodes(c echo.Context) error {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req regenerateCodesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	codes, err := h.engine.RegenerateRecoveryCodes(c.Request().Context(), res.UserID, authcore.RegenerateRecoveryCodesRequest{
		Password: req.Password,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"recovery_codes": codes,
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) <= len(bearer) || value[:len(bearer)] != bearer {
		return "", false
	}
	return value[len(bearer):], true
}

// httpError maps engine sentinels onto HTTP statuses. Messages stay
// generic; the distinction lives in audit events, not responses.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, authcore.ErrInvalidCode):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid code")
	case errors.Is(err, authcore.ErrCodeAttemptsExceeded):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, authcore.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "conflict")
	case errors.Is(err, authcore.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusBadRequest, "mfa not configured")
	case errors.Is(err, authcore.ErrPasswordPolicy),
		errors.Is(err, authcore.ErrPasswordReuse):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, authcore.ErrCredentialBackend),
		errors.Is(err, authcore.ErrCodeBackend),
		errors.Is(err, authcore.ErrRevocationBackend),
		errors.Is(err, authcore.ErrNotifierUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
