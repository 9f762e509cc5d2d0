package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"bookwise/internal/shared/model"
	"bookwise/internal/shared/ratelimit"
	"bookwise/internal/shared/storage"
)

// UserStore 用户存储接口
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateUserStatus(ctx context.Context, id string, status model.UserStatus) error
}

// Lifecycle 用户生命周期工作流
type Lifecycle interface {
	Start(ctx context.Context, userID, email, fullName string) (bool, error)
	Cancel(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, userID string) (*model.LifecycleWorkflow, error)
}

// Handler 认证 HTTP 处理器
type Handler struct {
	store     UserStore
	cfg       Config
	lifecycle Lifecycle
	limiter   *ratelimit.Limiter
	now       func() time.Time
}

// NewHandler 创建认证处理器；lifecycle 与 limiter 可为 nil
func NewHandler(store UserStore, cfg Config, lifecycle Lifecycle, limiter *ratelimit.Limiter) *Handler {
	return &Handler{store: store, cfg: cfg, lifecycle: lifecycle, limiter: limiter, now: time.Now}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/auth/sign-up", h.limit("sign-up", h.SignUp))
	mux.Handle("POST /api/v1/auth/sign-in", h.limit("sign-in", h.SignIn))
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
}

func (h *Handler) limit(policy string, fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return h.limiter.Middleware(policy, UserOrIP, fn)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type signUpRequest struct {
	FullName       string `json:"full_name" validate:"min=3"`
	Email          string `json:"email" validate:"required,email"`
	UniversityID   int    `json:"university_id" validate:"gt=0"`
	UniversityCard string `json:"university_card" validate:"required"`
	Password       string `json:"password" validate:"min=8"`
}

var signUpMessages = map[string]string{
	"full_name":       "full_name must be at least 3 characters",
	"email":           "invalid email format",
	"university_id":   "university_id is required",
	"university_card": "university_card is required",
	"password":        "password must be at least 8 characters",
}

// validate 规范化后校验，返回第一条错误信息
func (r *signUpRequest) validate() string {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = normalizeEmail(r.Email)
	r.UniversityCard = strings.TrimSpace(r.UniversityCard)
	field := firstInvalidField(r)
	if field == "" {
		return ""
	}
	if msg, ok := signUpMessages[field]; ok {
		return msg
	}
	return "invalid " + field
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

// SignUp 用户注册
// POST /api/v1/auth/sign-up
//
// 新用户状态为 pending，等待管理员审核后才能借阅；注册成功后登记生命周期工作流。
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	// 检查邮箱是否已注册
	_, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err == nil {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[auth.sign-up] GetUserByEmail error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "internal error")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Printf("[auth.sign-up] HashPassword error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := h.now().UTC()
	user := &model.User{
		ID:               model.NewID(model.PrefixUser),
		Email:            req.Email,
		FullName:         req.FullName,
		UniversityID:     req.UniversityID,
		UniversityCard:   req.UniversityCard,
		PasswordHash:     hash,
		Role:             model.UserRoleUser,
		Status:           model.UserStatusPending,
		LastActivityDate: model.ActivityDay(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		log.Printf("[auth.sign-up] CreateUser error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "failed to create user")
		return
	}

	// 工作流登记失败不影响注册，启动时的补登记会重新尝试
	if h.lifecycle != nil {
		if _, err := h.lifecycle.Start(r.Context(), user.ID, user.Email, user.FullName); err != nil {
			log.Printf("[auth.sign-up] lifecycle start error for %s: %v", user.ID, err)
		}
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		log.Printf("[auth.sign-up] issue tokens error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	log.Printf("[auth] User signed up: %s (%s)", user.Email, user.ID)
	writeJSON(w, http.StatusCreated, resp)
}

// SignIn 用户登录
// POST /api/v1/auth/sign-in
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[auth.sign-in] GetUserByEmail error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "internal error")
		return
	}
	if user == nil || !CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if user.Status == model.UserStatusRejected {
		writeError(w, http.StatusForbidden, "account is rejected")
		return
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	log.Printf("[auth] User signed in: %s", user.Email)
	writeJSON(w, http.StatusOK, resp)
}

// Refresh 刷新访问令牌
// POST /api/v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	claims, err := ParseToken(h.cfg, req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if claims.Type != tokenTypeRefresh {
		writeError(w, http.StatusUnauthorized, "invalid token type")
		return
	}

	// 查询用户确保仍然存在且有效
	user, err := h.store.GetUserByID(r.Context(), claims.Subject)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	if user.Status == model.UserStatusRejected {
		writeError(w, http.StatusForbidden, "account is rejected")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// Me 获取当前用户信息
// GET /api/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) issueTokens(user *model.User) (*authResponse, error) {
	accessToken, err := GenerateAccessToken(h.cfg, user)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	refreshToken, err := GenerateRefreshToken(h.cfg, user.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &authResponse{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// ============================================================================
// Bootstrap
// ============================================================================

// EnsureAdminUser 确保管理员用户存在（启动时调用）
// 如果配置了 adminEmail 且数据库中不存在该用户，则自动创建
func EnsureAdminUser(ctx context.Context, store UserStore, adminEmail, adminPassword string) error {
	if adminEmail == "" || adminPassword == "" {
		return nil
	}
	adminEmail = normalizeEmail(adminEmail)

	existing, err := store.GetUserByEmail(ctx, adminEmail)
	if err == nil {
		if existing.Role != model.UserRoleAdmin {
			log.Printf("[auth] WARNING: %s exists but is not an admin", adminEmail)
		}
		log.Printf("[auth] Admin user already exists: %s (%s)", adminEmail, existing.ID)
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check admin user: %w", err)
	}

	hash, err := HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:               model.NewID(model.PrefixUser),
		Email:            adminEmail,
		FullName:         "Admin",
		PasswordHash:     hash,
		Role:             model.UserRoleAdmin,
		Status:           model.UserStatusApproved,
		LastActivityDate: model.ActivityDay(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.Printf("[auth] Created admin user: %s (%s)", adminEmail, user.ID)
	return nil
}

// EnrollExistingUsers 为尚未登记工作流的读者补登记（幂等）
func EnrollExistingUsers(ctx context.Context, store UserStore, lifecycle Lifecycle) (int, error) {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	enrolled := 0
	for _, u := range users {
		if u.Role != model.UserRoleUser {
			continue
		}
		created, err := lifecycle.Start(ctx, u.ID, u.Email, u.FullName)
		if err != nil {
			return enrolled, fmt.Errorf("enroll %s: %w", u.ID, err)
		}
		if created {
			enrolled++
		}
	}
	return enrolled, nil
}
