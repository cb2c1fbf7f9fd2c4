package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/auth"
	"github.com/gravelroot/dispatch-core/internal/config"
	"github.com/gravelroot/dispatch-core/pkg/security"
)

// Context keys for request context
type contextKey string

const (
	StaffIDKey    contextKey = "staff_id"
	TenantIDKey   contextKey = "tenant_id"
	StaffRoleKey  contextKey = "staff_role"
	RequestIDKey  contextKey = "request_id"
	PageKey       contextKey = "page"
	PerPageKey    contextKey = "per_page"
	OffsetKey     contextKey = "offset"
)

// EnhancedMiddleware provides the HTTP middleware stack shared by every
// route: request id, CORS, structured logging, JWT auth, tenant scoping,
// rate limiting, and audit logging.
type EnhancedMiddleware struct {
	config      *config.Config
	verifier    auth.Verifier
	redisClient *redis.Client
	rateLimiter security.RateLimiter
	logger      *zap.SugaredLogger
}

// NewEnhancedMiddleware creates a new enhanced middleware instance.
func NewEnhancedMiddleware(cfg *config.Config, verifier auth.Verifier, redisClient *redis.Client, rateLimiter security.RateLimiter, logger *zap.SugaredLogger) *EnhancedMiddleware {
	return &EnhancedMiddleware{
		config:      cfg,
		verifier:    verifier,
		redisClient: redisClient,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// RequestID adds a unique request ID to each request.
func (m *EnhancedMiddleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EnhancedCORS handles Cross-Origin Resource Sharing with dynamic origin validation.
func (m *EnhancedMiddleware) EnhancedCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range m.config.CORSAllowedOrigins {
			if allowedOrigin == "*" || origin == allowedOrigin {
				allowed = true
				break
			}
			if strings.HasPrefix(allowedOrigin, "*.") {
				suffix := strings.TrimPrefix(allowedOrigin, "*.")
				if strings.HasSuffix(origin, suffix) {
					allowed = true
					break
				}
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID, X-Request-ID, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CSRFProtection wraps the handler chain with gorilla/csrf, required
// for state-changing requests from browser sessions. Requests carrying
// a Bearer token bypass the double-submit check: they are not
// cookie-authenticated, so cross-site request forgery does not apply.
func (m *EnhancedMiddleware) CSRFProtection(next http.Handler) http.Handler {
	protect := csrf.Protect(
		[]byte(m.config.CSRFSecret),
		csrf.Secure(m.config.IsProduction()),
		csrf.Path("/"),
	)
	protected := protect(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// EnhancedLogging provides comprehensive request logging.
func (m *EnhancedMiddleware) EnhancedLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Context().Value(RequestIDKey)

		wrapped := &enhancedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		m.logger.Infow("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"size_bytes", wrapped.size,
			"ip_address", getClientIP(r),
			"tenant_id", r.Context().Value(TenantIDKey),
		)
	})
}

// JWTAuth validates JWT tokens and sets staff/tenant context.
func (m *EnhancedMiddleware) JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			m.writeErrorResponse(w, apperr.Validation("authorization header required"))
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.writeErrorResponse(w, apperr.Validation("invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), StaffIDKey, claims.StaffID)
		ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
		ctx = context.WithValue(ctx, StaffRoleKey, claims.Role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantValidation ensures a tenant ID named in the URL path matches
// the caller's own tenant.
func (m *EnhancedMiddleware) TenantValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenTenantID, ok := r.Context().Value(TenantIDKey).(uuid.UUID)
		if !ok {
			m.writeErrorResponse(w, apperr.Validation("tenant context missing"))
			return
		}

		vars := mux.Vars(r)
		if tenantIDStr, exists := vars["tenantId"]; exists {
			requestedTenantID, err := uuid.Parse(tenantIDStr)
			if err != nil {
				m.writeErrorResponse(w, apperr.Validation("invalid tenant id format"))
				return
			}
			if !auth.CanAccessTenant(tokenTenantID, requestedTenantID) {
				m.writeErrorResponse(w, apperr.Validation("access denied to tenant"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// RequireDispatcher restricts a handler to staff with dispatch
// authority (admin/dispatcher roles), rejecting plain field techs.
func (m *EnhancedMiddleware) RequireDispatcher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(StaffRoleKey).(string)
		if !auth.IsDispatcher(role) {
			m.writeErrorResponse(w, apperr.Validation("dispatcher role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a requests-per-minute cap keyed by caller identity.
func (m *EnhancedMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.generateRateLimitKey(r)

		allowed, err := m.rateLimiter.Allow(r.Context(), key)
		if err != nil {
			m.writeErrorResponse(w, apperr.Transient("rate limit check failed", err))
			return
		}

		if info, infoErr := m.rateLimiter.GetInfo(r.Context(), key); infoErr == nil && info != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))
		}

		if !allowed {
			m.writeErrorResponse(w, apperr.StateRejected("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders adds standard security headers to responses.
func (m *EnhancedMiddleware) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if m.config.IsProduction() {
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
		}

		next.ServeHTTP(w, r)
	})
}

// AuditLog logs state-changing requests for security auditing. Business
// audit records are written directly by the scheduleaudit package
// (schedule clears) and the dispatch package (reassignments); this is
// the HTTP-access trail.
func (m *EnhancedMiddleware) AuditLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			go m.writeAuditLog(r)
		}
		next.ServeHTTP(w, r)
	})
}

// Pagination parses page/per_page query parameters into the request context.
func (m *EnhancedMiddleware) Pagination(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 1
		perPage := 20

		if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
			page = p
		}
		if pp, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && pp > 0 && pp <= 100 {
			perPage = pp
		}

		ctx := context.WithValue(r.Context(), PageKey, page)
		ctx = context.WithValue(ctx, PerPageKey, perPage)
		ctx = context.WithValue(ctx, OffsetKey, (page-1)*perPage)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// enhancedResponseWriter wraps http.ResponseWriter to capture status/size.
type enhancedResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *enhancedResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *enhancedResponseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

func (m *EnhancedMiddleware) writeErrorResponse(w http.ResponseWriter, err error) {
	resp := apperr.ToResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	json.NewEncoder(w).Encode(resp)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colon := strings.LastIndex(ip, ":"); colon != -1 {
		ip = ip[:colon]
	}
	return ip
}

func (m *EnhancedMiddleware) writeAuditLog(r *http.Request) {
	m.logger.Infow("audit",
		"request_id", r.Context().Value(RequestIDKey),
		"staff_id", r.Context().Value(StaffIDKey),
		"tenant_id", r.Context().Value(TenantIDKey),
		"action", fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		"ip_address", getClientIP(r),
	)
}

func (m *EnhancedMiddleware) generateRateLimitKey(r *http.Request) string {
	if staffID := r.Context().Value(StaffIDKey); staffID != nil {
		return fmt.Sprintf("staff:%v", staffID)
	}
	return fmt.Sprintf("ip:%s", getClientIP(r))
}
