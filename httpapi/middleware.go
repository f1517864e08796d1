package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	phoneauth "github.com/viznet/phoneauth"
)

const authContextKey = "httpapi.auth"

// requestMetadata copies the caller's IP and user agent into the request
// context so engine audit events carry them.
func requestMetadata() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := phoneauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = phoneauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestMetrics(requests *prometheus.CounterVec, latency *prometheus.HistogramVec) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// requireAuth resolves the bearer token and stores the result for the
// handler. Failures end the request with 401.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}

		auth, err := s.engine.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or expired token")
			return
		}

		c.Set(authContextKey, auth)
		c.Next()
	}
}

func currentAuth(c *gin.Context) (*phoneauth.AuthResult, bool) {
	v, ok := c.Get(authContextKey)
	if !ok {
		return nil, false
	}
	auth, ok := v.(*phoneauth.AuthResult)
	return auth, ok
}
