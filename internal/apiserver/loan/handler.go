// Package loan 借阅领域 - HTTP 处理
package loan

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/borrowing"
	"bookwise/internal/shared/apperr"
	"bookwise/internal/shared/model"
)

// Coordinator 借阅协调器
type Coordinator interface {
	Borrow(ctx context.Context, userID, bookID string) (*model.Loan, error)
	Return(ctx context.Context, userID, loanID string) (*model.Loan, error)
	Eligibility(ctx context.Context, userID, bookID string) (borrowing.Eligibility, error)
	ListLoans(ctx context.Context, userID string) ([]*model.Loan, error)
}

// Handler 借阅 HTTP 处理器
type Handler struct {
	coord Coordinator
}

// NewHandler 创建借阅处理器
func NewHandler(coord Coordinator) *Handler {
	return &Handler{coord: coord}
}

// RegisterRoutes 注册借阅相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/books/{id}/eligibility", h.Eligibility)
	mux.HandleFunc("POST /api/v1/books/{id}/borrow", h.Borrow)
	mux.HandleFunc("POST /api/v1/loans/{id}/return", h.Return)
	mux.HandleFunc("GET /api/v1/loans/me", h.ListMine)
}

// Eligibility 借阅资格预检
// GET /api/v1/books/{id}/eligibility
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	e, err := h.coord.Eligibility(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, "eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Borrow 借书
// POST /api/v1/books/{id}/borrow
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	loan, err := h.coord.Borrow(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, "borrow", err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// Return 还书
// POST /api/v1/loans/{id}/return
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	loan, err := h.coord.Return(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, "return", err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// ListMine 当前用户的借阅记录
// GET /api/v1/loans/me
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	loans, err := h.coord.ListLoans(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, "list", err)
		return
	}
	if loans == nil {
		loans = []*model.Loan{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loans": loans, "total": len(loans)})
}

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError 按错误分类写入响应；瞬时错误不向调用方暴露底层信息
func writeAppError(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Printf("[loan.%s] error: %v", op, err)
		msg = "service temporarily unavailable, please retry"
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
		"code":  string(apperr.CodeOf(err)),
	})
}
