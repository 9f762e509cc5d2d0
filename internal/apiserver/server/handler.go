package server

import (
	"net/http"

	"github.com/google/uuid"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/apiserver/book"
	"bookwise/internal/apiserver/loan"
	"bookwise/internal/apiserver/upload"
	"bookwise/pkg/logging"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 认证 (auth):
//   - POST /api/v1/auth/sign-up, /sign-in, /refresh
//   - GET  /api/v1/auth/me
//
// 图书 (book):
//   - GET /api/v1/books, /api/v1/books/{id}
//   - POST/PUT/DELETE /api/v1/admin/books[/{id}]
//
// 借阅 (loan):
//   - GET  /api/v1/books/{id}/eligibility
//   - POST /api/v1/books/{id}/borrow
//   - POST /api/v1/loans/{id}/return
//   - GET  /api/v1/loans/me
//
// 管理 (admin):
//   - GET   /api/v1/admin/users
//   - PATCH /api/v1/admin/users/{id}/status
//   - GET/DELETE /api/v1/admin/users/{id}/lifecycle
//
// 上传 (upload):
//   - GET  /api/v1/upload-auth
//   - POST /api/v1/admin/uploads
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler(h.deps.Gatherer))

	authHandler := auth.NewHandler(h.deps.Store, h.deps.Auth, h.deps.Lifecycle, h.deps.Limiter)
	authHandler.RegisterRoutes(mux)
	authHandler.RegisterAdminRoutes(mux)

	book.NewHandler(h.deps.Store).RegisterRoutes(mux)

	if h.deps.Loans != nil {
		loan.NewHandler(h.deps.Loans).RegisterRoutes(mux)
	}
	if h.deps.Media != nil {
		upload.NewHandler(h.deps.Media, h.deps.Limiter).RegisterRoutes(mux)
	}

	// 由内到外：指标 → 活跃度 → 认证 → 请求 ID → CORS
	var handler http.Handler = h.metrics.MetricsMiddleware(mux)
	handler = h.activity.Middleware(handler)
	handler = auth.Middleware(h.deps.Auth)(handler)
	handler = h.requestID(handler)
	return corsMiddleware(handler)
}

// requestID 为每个请求分配 ID 并写入响应头
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
