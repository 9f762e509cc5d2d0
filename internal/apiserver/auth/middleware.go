package auth

import (
	"log"
	"net/http"
	"strings"

	"bookwise/internal/shared/ratelimit"
	"bookwise/pkg/logging"
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/api/v1/auth/sign-up",
	"/api/v1/auth/sign-in",
	"/api/v1/auth/refresh",
	"/api/v1/upload-auth",
	"/health",
	"/metrics",
}

// isPublicRoute 目录浏览（列表与详情）无需登录
func isPublicRoute(method, path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if method != http.MethodGet {
		return false
	}
	if path == "/api/v1/books" {
		return true
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/books/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}

// Middleware 创建 JWT 认证中间件
//
// 公开路由上携带的有效令牌同样会被解析，便于限流按用户计数。
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			public := isPublicRoute(r.Method, r.URL.Path)

			// 提取 Bearer Token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			// 解析 JWT
			claims, err := ParseToken(cfg, parts[1])
			if err != nil || claims.Type != tokenTypeAccess {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				if err != nil {
					log.Printf("[auth] token parse error: %v", err)
					writeError(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid token type")
				return
			}

			user := &AuthUser{
				ID:    claims.Subject,
				Email: claims.Email,
				Role:  roleOf(claims.Role),
			}
			ctx := WithAuthUser(r.Context(), user)
			ctx = logging.ContextWithUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly 管理员专属路由中间件
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := GetAuthUser(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}

// UserOrIP 限流身份：已登录用户按用户 ID，否则按客户端 IP
func UserOrIP(r *http.Request) string {
	if user := GetAuthUser(r.Context()); user != nil {
		return "user:" + user.ID
	}
	return "ip:" + ratelimit.ClientIP(r)
}
