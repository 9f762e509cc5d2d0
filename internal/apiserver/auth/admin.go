package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"bookwise/internal/shared/apperr"
	"bookwise/internal/shared/model"
	"bookwise/internal/shared/storage"
)

// RegisterAdminRoutes 注册用户审核与工作流管理路由
func (h *Handler) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/admin/users", AdminOnly(h.ListUsers))
	mux.HandleFunc("PATCH /api/v1/admin/users/{id}/status", AdminOnly(h.UpdateStatus))
	mux.HandleFunc("GET /api/v1/admin/users/{id}/lifecycle", AdminOnly(h.GetLifecycle))
	mux.HandleFunc("DELETE /api/v1/admin/users/{id}/lifecycle", AdminOnly(h.CancelLifecycle))
}

// ListUsers 列出全部用户
// GET /api/v1/admin/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("[auth.admin] ListUsers error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "failed to list users")
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": len(users)})
}

type updateStatusRequest struct {
	Status model.UserStatus `json:"status"`
}

// UpdateStatus 审核用户（approved / rejected）
// PATCH /api/v1/admin/users/{id}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}

	if err := h.store.UpdateUserStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("[auth.admin] UpdateUserStatus %s error: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "failed to update user")
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to load user")
		return
	}
	log.Printf("[auth.admin] User %s status -> %s", id, req.Status)
	writeJSON(w, http.StatusOK, user)
}

// GetLifecycle 查询用户的生命周期工作流
// GET /api/v1/admin/users/{id}/lifecycle
func (h *Handler) GetLifecycle(w http.ResponseWriter, r *http.Request) {
	if h.lifecycle == nil {
		writeError(w, http.StatusNotFound, "lifecycle engine disabled")
		return
	}
	wf, err := h.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// CancelLifecycle 取消用户的生命周期工作流
// DELETE /api/v1/admin/users/{id}/lifecycle
func (h *Handler) CancelLifecycle(w http.ResponseWriter, r *http.Request) {
	if h.lifecycle == nil {
		writeError(w, http.StatusNotFound, "lifecycle engine disabled")
		return
	}
	id := r.PathValue("id")
	ok, err := h.lifecycle.Cancel(r.Context(), id)
	if err != nil {
		log.Printf("[auth.admin] cancel lifecycle %s error: %v", id, err)
		writeError(w, apperr.HTTPStatus(err), "failed to cancel workflow")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no running workflow")
		return
	}
	log.Printf("[auth.admin] Lifecycle workflow cancelled for %s", id)
	w.WriteHeader(http.StatusNoContent)
}
