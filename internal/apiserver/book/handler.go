// Package book 图书目录 - HTTP 处理
package book

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/shared/model"
	"bookwise/internal/shared/storage"
)

// Handler 图书目录 HTTP 处理器
type Handler struct {
	store storage.BookStore
}

// NewHandler 创建图书处理器
func NewHandler(store storage.BookStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册图书相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/books", h.List)
	mux.HandleFunc("GET /api/v1/books/{id}", h.Get)

	mux.HandleFunc("POST /api/v1/admin/books", auth.AdminOnly(h.Create))
	mux.HandleFunc("PUT /api/v1/admin/books/{id}", auth.AdminOnly(h.Update))
	mux.HandleFunc("DELETE /api/v1/admin/books/{id}", auth.AdminOnly(h.Delete))
}

// List 列出图书
// GET /api/v1/books?q=&genre=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.BookFilter{
		Query: q.Get("q"),
		Genre: q.Get("genre"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	books, err := h.store.ListBooks(r.Context(), filter)
	if err != nil {
		log.Printf("[book.list] ListBooks error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "failed to list books")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"books": books,
		"total": len(books),
	})
}

// Get 获取图书详情
// GET /api/v1/books/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Create 新增图书，可借册数等于总册数
// POST /api/v1/admin/books
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now().UTC()
	b := req.toModel(model.NewID(model.PrefixBook))
	b.AvailableCopies = b.TotalCopies
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := h.store.CreateBook(r.Context(), b); err != nil {
		h.writeStoreError(w, "create", err)
		return
	}
	log.Printf("[book] Created book %s (%s), copies=%d", b.ID, b.Title, b.TotalCopies)
	writeJSON(w, http.StatusCreated, b)
}

// Update 更新图书；总册数变化时可借册数按差值调整
// PUT /api/v1/admin/books/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := h.store.UpdateBook(r.Context(), req.toModel(r.PathValue("id")))
	if err != nil {
		h.writeStoreError(w, "update", err)
		return
	}
	log.Printf("[book] Updated book %s, copies=%d/%d", updated.ID, updated.AvailableCopies, updated.TotalCopies)
	writeJSON(w, http.StatusOK, updated)
}

// Delete 删除图书；仍有在借记录时拒绝
// DELETE /api/v1/admin/books/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteBook(r.Context(), id); err != nil {
		h.writeStoreError(w, "delete", err)
		return
	}
	log.Printf("[book] Deleted book %s", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, "book already exists")
	default:
		log.Printf("[book.%s] store error: %v", op, err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}
