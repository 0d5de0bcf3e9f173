package middleware

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
)

// Context keys
const (
	ContextKeyUserID      = "user_id"
	ContextKeyWorkspaceID = "workspace_id"
	ContextKeyEmail       = "email"
	ContextKeyIsAdmin     = "is_admin"
)

// AccessCookie is the cookie checked when no Authorization header is present.
const AccessCookie = "wv_access"

// JWTClaims represents JWT claims
type JWTClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Email       string    `json:"email"`
	IsAdmin     bool      `json:"is_admin"`
	jwt.RegisteredClaims
}

// RequestLogger records the request start time for latency logging.
func RequestLogger(log logf.Logger) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		r.RequestCtx.SetUserValue("request_start", time.Now())
		return r
	}
}

// ParseAllowedOrigins parses a comma-separated list of allowed origins into a set.
func ParseAllowedOrigins(allowedOrigins string) map[string]bool {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins[o] = true
		}
	}
	return origins
}

// IsOriginAllowed checks if origin is in the allowed set. An empty set
// allows every origin (development mode).
func IsOriginAllowed(origin string, allowedOrigins map[string]bool) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	return allowedOrigins[origin]
}

// CORS handles Cross-Origin Resource Sharing with origin validation.
func CORS(allowedOrigins map[string]bool) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		origin := string(r.RequestCtx.Request.Header.Peek("Origin"))

		if origin != "" && IsOriginAllowed(origin, allowedOrigins) {
			r.RequestCtx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			r.RequestCtx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
		}
		// A disallowed origin gets no Access-Control-Allow-Origin header,
		// which makes the browser block the response.

		r.RequestCtx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		r.RequestCtx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		r.RequestCtx.Response.Header.Set("Access-Control-Max-Age", "86400")

		return r
	}
}

// SecurityHeaders adds standard security headers to every response.
func SecurityHeaders() fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		h := &r.RequestCtx.Response.Header
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return r
	}
}

// Recovery recovers from panics
func Recovery(log logf.Logger) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered", "error", err, "path", string(r.RequestCtx.Path()))
				r.RequestCtx.SetStatusCode(fasthttp.StatusInternalServerError)
				r.RequestCtx.SetBodyString(`{"status":"error","message":"Internal server error"}`)
			}
		}()
		return r
	}
}

// Auth validates the JWT from the Authorization header or the access
// cookie and stores the claims in the request context.
func Auth(secret string) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		var tokenString string

		authHeader := string(r.RequestCtx.Request.Header.Peek("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid authorization header format", nil, "")
				return nil
			}
			tokenString = parts[1]
		} else {
			tokenString = string(r.RequestCtx.Request.Header.Cookie(AccessCookie))
		}

		if tokenString == "" {
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Missing authorization", nil, "")
			return nil
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid or expired token", nil, "")
			return nil
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid token claims", nil, "")
			return nil
		}

		r.RequestCtx.SetUserValue(ContextKeyUserID, claims.UserID)
		r.RequestCtx.SetUserValue(ContextKeyWorkspaceID, claims.WorkspaceID)
		r.RequestCtx.SetUserValue(ContextKeyEmail, claims.Email)
		r.RequestCtx.SetUserValue(ContextKeyIsAdmin, claims.IsAdmin)

		return r
	}
}

// GetUserID extracts the authenticated user id from the request context.
func GetUserID(r *fastglue.Request) (uuid.UUID, bool) {
	userID, ok := r.RequestCtx.UserValue(ContextKeyUserID).(uuid.UUID)
	return userID, ok
}

// GetWorkspaceID extracts the workspace id from the request context.
func GetWorkspaceID(r *fastglue.Request) (uuid.UUID, bool) {
	wsID, ok := r.RequestCtx.UserValue(ContextKeyWorkspaceID).(uuid.UUID)
	return wsID, ok
}

// GetEmail extracts the authenticated email from the request context.
func GetEmail(r *fastglue.Request) string {
	email, _ := r.RequestCtx.UserValue(ContextKeyEmail).(string)
	return email
}

// IsAdmin checks if the current user is a platform admin.
func IsAdmin(r *fastglue.Request) bool {
	isAdmin, ok := r.RequestCtx.UserValue(ContextKeyIsAdmin).(bool)
	return ok && isAdmin
}
