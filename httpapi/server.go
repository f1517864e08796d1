package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	phoneauth "github.com/viznet/phoneauth"
	"github.com/viznet/phoneauth/store"
)

// Server defines a public type used by phoneauth APIs.
//
// Server instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Server struct {
	engine   *phoneauth.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry collects request metrics into the given registry instead of
// a private one.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// NewServer describes the newserver operation and its observable behavior.
//
// NewServer may return an error when input validation, dependency calls, or security checks fail.
// NewServer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewServer(engine *phoneauth.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authd_http_requests_total",
		Help: "HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})
	s.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authd_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	s.registry.MustRegister(s.requests, s.latency)

	return s
}

// Registry returns the registry holding the request metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Router builds the gin router with every /auth route mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestMetadata(), requestMetrics(s.requests, s.latency))

	auth := router.Group("/auth")
	{
		auth.POST("/send-code", s.handleSendCode)
		auth.POST("/verify-code", s.handleVerifyCode)
		auth.POST("/refresh", s.handleRefresh)
		auth.POST("/login", s.handleLogin)
		auth.POST("/register", s.handleRegister)

		auth.POST("/logout", s.requireAuth(), s.handleLogout)
		auth.GET("/me", s.requireAuth(), s.handleMe)
	}

	return router
}

// normalizePhone strips formatting and the leading plus sign, leaving bare
// digits. Rejects anything outside 8..15 digits.
func normalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(strings.TrimSpace(raw), "+") {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	phone := b.String()
	if len(phone) < 8 || len(phone) > 15 {
		return "", false
	}
	return phone, true
}

func parsePurpose(raw string) (store.Purpose, bool) {
	if raw == "" {
		return store.PurposeLogin, true
	}
	p := store.Purpose(raw)
	return p, p.Valid()
}

func validCodeFormat(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Server) setBudgetHeaders(c *gin.Context, phone string, purpose store.Purpose) {
	limit, remaining, _, err := s.engine.SendBudget(c.Request.Context(), phone, purpose)
	if err != nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

func (s *Server) handleSendCode(c *gin.Context) {
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	phone, ok := normalizePhone(req.Phone)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid phone number")
		return
	}
	purpose, ok := parsePurpose(req.Purpose)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid purpose")
		return
	}

	res, err := s.engine.SendCode(c.Request.Context(), phone, purpose)
	var rl *phoneauth.RateLimitedError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":    false,
			"code":       "RATE_LIMITED",
			"retryAfter": rl.RetryAfter,
		})
		return
	}
	if err != nil {
		s.internalError(c, "send code", err)
		return
	}

	s.setBudgetHeaders(c, phone, purpose)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"userExists": res.UserExists,
		"expiresIn":  res.ExpiresIn,
	})
}

func (s *Server) handleVerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	phone, ok := normalizePhone(req.Phone)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid phone number")
		return
	}
	purpose, ok := parsePurpose(req.Purpose)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid purpose")
		return
	}
	if !validCodeFormat(req.Code) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "code must be 6 digits")
		return
	}

	res, err := s.engine.VerifyCode(c.Request.Context(), phone, req.Code, purpose)
	if err != nil {
		var inv *phoneauth.InvalidCodeError
		switch {
		case errors.Is(err, phoneauth.ErrOTPLockedOut):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":           false,
				"code":              "INVALID_OTP",
				"attemptsRemaining": 0,
			})
		case errors.As(err, &inv):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":           false,
				"code":              "INVALID_OTP",
				"attemptsRemaining": inv.AttemptsRemaining,
			})
		default:
			s.internalError(c, "verify code", err)
		}
		return
	}

	if res.NeedsRegistration {
		c.JSON(http.StatusOK, gin.H{
			"success":           true,
			"needsRegistration": true,
			"phone":             res.Phone,
			"verifiedUntil":     res.VerifiedUntil.UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, pairJSON(res.Subject, res.Pair))
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "refreshToken required")
		return
	}

	pair, err := s.engine.Refresh(c.Request.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, phoneauth.ErrRotationInProgress):
		writeError(c, http.StatusTooManyRequests, "ROTATION_IN_PROGRESS", "refresh already being rotated")
		return
	case errors.Is(err, phoneauth.ErrRefreshInvalid):
		writeError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is not usable")
		return
	case err != nil:
		s.internalError(c, "refresh", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	phone, ok := normalizePhone(req.Phone)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid phone number")
		return
	}

	subject, pair, err := s.engine.Login(c.Request.Context(), phone, req.Password)
	if errors.Is(err, phoneauth.ErrInvalidCredentials) {
		writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "phone or password is wrong")
		return
	}
	if err != nil {
		s.internalError(c, "login", err)
		return
	}

	c.JSON(http.StatusOK, pairJSON(subject, pair))
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	phone, ok := normalizePhone(req.Phone)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid phone number")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "name required")
		return
	}

	subject, pair, err := s.engine.Register(c.Request.Context(), phoneauth.RegisterInput{
		Phone:    phone,
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	switch {
	case errors.Is(err, phoneauth.ErrPhoneNotVerified):
		writeError(c, http.StatusBadRequest, "OTP_NOT_VERIFIED", "verify the phone before registering")
		return
	case errors.Is(err, phoneauth.ErrSubjectExists):
		writeError(c, http.StatusConflict, "USER_EXISTS", "an account already owns this phone")
		return
	case err != nil:
		s.internalError(c, "register", err)
		return
	}

	c.JSON(http.StatusCreated, pairJSON(subject, pair))
}

func (s *Server) handleLogout(c *gin.Context) {
	auth, ok := currentAuth(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
		return
	}

	var req logoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
			return
		}
	}

	var err error
	if req.AllDevices {
		_, err = s.engine.LogoutAll(c.Request.Context(), auth.Subject.ID)
	} else {
		err = s.engine.Logout(c.Request.Context(), auth.Token.ID)
	}
	if err != nil {
		s.internalError(c, "logout", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleMe(c *gin.Context) {
	auth, ok := currentAuth(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{"user": userJSON(auth.Subject)},
	})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
}
