package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"MusicFlow/logger"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

const (
	sessionCookie = "sessionid"
	csrfCookie    = "csrftoken"
	clientCookie  = "mf_client"
	resetCookie   = "reset_session"

	csrfHeader    = "X-CSRFToken"
	csrfFormField = "csrfmiddlewaretoken"

	clientCookieMaxAge = 365 * 24 * time.Hour
	csrfCookieMaxAge   = 365 * 24 * time.Hour
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
	clientIDKey contextKey = "clientID"
)

// AuthMiddleware 校验会话 Cookie 或 Bearer 令牌，并把用户信息放入上下文
func (h *Handler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, Response{Error: "Please log in to continue.", RedirectURL: "login.html"})
			return
		}

		claims, err := h.tokens.ParseToken(token)
		if err != nil {
			logger.Debug("[Auth] 会话令牌无效", logger.ErrorField(err))
			writeJSON(w, http.StatusUnauthorized, Response{Error: "Your session has expired. Please log in again.", RedirectURL: "login.html"})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// sessionToken 依次从会话 Cookie 和 Authorization 头读取令牌
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameKey).(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// ClientMiddleware 为每个浏览器分配一个 client id，页面状态按它存储
func (h *Handler) ClientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(clientCookie); err == nil {
			if _, perr := uuid.Parse(c.Value); perr == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     clientCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int(clientCookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   h.cfg.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIDKey, id)))
	})
}

func clientID(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// BodyLimitMiddleware 在任何表单解析之前限制请求体大小，
// 头像上限加上表单字段的余量
func (h *Handler) BodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := h.cfg.MaxPictureBytes + maxMultipartMemory
		if r.ContentLength > limit {
			logger.Warn("[Upload] 请求体过大", logger.String("path", r.URL.Path), logger.Int64("size", r.ContentLength))
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// CSRFMiddleware 用 gorilla/csrf 保护修改类请求。令牌由 GET /api/csrf 下发，
// 提交时放在 X-CSRFToken 头或 csrfmiddlewaretoken 表单字段里
func (h *Handler) CSRFMiddleware() mux.MiddlewareFunc {
	key := sha256.Sum256([]byte("csrf:" + h.cfg.JWTSecret))
	protect := csrf.Protect(key[:],
		csrf.CookieName(csrfCookie),
		csrf.RequestHeader(csrfHeader),
		csrf.FieldName(csrfFormField),
		csrf.Path("/"),
		csrf.MaxAge(int(csrfCookieMaxAge.Seconds())),
		csrf.Secure(h.cfg.CookieSecure),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.TrustedOrigins(trustedHosts(h.cfg.AllowedOrigin)),
		csrf.ErrorHandler(http.HandlerFunc(csrfFailure)),
	)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 没有 TLS 时不做 Referer 校验
			if r.TLS == nil && !h.cfg.CookieSecure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func csrfFailure(w http.ResponseWriter, r *http.Request) {
	logger.Warn("[CSRF] 校验失败", logger.String("path", r.URL.Path), logger.ErrorField(csrf.FailureReason(r)))
	writeError(w, http.StatusForbidden, "CSRF verification failed.")
}

// trustedHosts 把 CORS 允许的来源转换成 host 列表，"*" 不计入
func trustedHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// RateLimit 按客户端 IP 限制登录、注册和重置的尝试次数
func (h *Handler) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		ok, err := h.limiter.Allow(r.Context(), "auth:"+ip)
		if err != nil {
			// 限流存储不可用时放行
			logger.Error("[RateLimit] 检查失败", logger.String("ip", ip), logger.ErrorField(err))
		} else if !ok {
			logger.Warn("[RateLimit] 请求过于频繁", logger.String("ip", ip), logger.String("path", r.URL.Path))
			writeError(w, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
