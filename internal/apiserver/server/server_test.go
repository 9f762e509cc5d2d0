package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/borrowing"
	"bookwise/internal/shared/model"
	sqlitedriver "bookwise/internal/shared/storage/driver/sqlite"
	"bookwise/internal/shared/storage/repository"
	"bookwise/pkg/logging"
)

var testAuth = auth.Config{
	JWTSecret:       "server-test-secret",
	AccessTokenTTL:  15 * time.Minute,
	RefreshTokenTTL: time.Hour,
}

type testServer struct {
	store   *repository.Store
	handler *Handler
	srv     *httptest.Server
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	h := NewHandler(Deps{
		Store:      store,
		Auth:       testAuth,
		Loans:      borrowing.NewCoordinator(store, borrowing.Policy{LoanPeriod: 7 * 24 * time.Hour}, borrowing.WithLogger(logging.Discard())),
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logging.Discard(),
	})
	t.Cleanup(h.Wait)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{store: store, handler: h, srv: srv, reg: reg}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) signIn(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/sign-in", "",
		map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	return out.AccessToken
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodOptions, "/api/v1/loans/me", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/api/v1/loans/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// 目录浏览公开
	resp, body := s.do(t, http.MethodGet, "/api/v1/books", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"books":[],"total":0}`, string(body))
}

func TestBorrowFlowEndToEnd(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, auth.EnsureAdminUser(ctx, s.store, "admin@bookwise.local", "admin-password"))
	adminToken := s.signIn(t, "admin@bookwise.local", "admin-password")

	// 注册读者
	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/sign-up", "", map[string]any{
		"full_name":       "Ada Lovelace",
		"email":           "ada@example.com",
		"university_id":   42,
		"university_card": "ids/ada-card.png",
		"password":        "analytical-engine",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var signUp struct {
		User        model.User `json:"user"`
		AccessToken string     `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(body, &signUp))
	readerToken := signUp.AccessToken

	// 上架图书
	resp, body = s.do(t, http.MethodPost, "/api/v1/admin/books", adminToken, map[string]any{
		"title":        "Clean Code",
		"author":       "Robert C. Martin",
		"genre":        "Software",
		"rating":       5,
		"description":  "A handbook of agile software craftsmanship.",
		"summary":      "Writing code that humans can read.",
		"cover_url":    "https://cdn.example.com/images/cover/clean-code.jpg",
		"cover_color":  "#1c1f40",
		"video_url":    "https://cdn.example.com/videos/trailer/clean-code.mp4",
		"total_copies": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var book model.Book
	require.NoError(t, json.Unmarshal(body, &book))

	// 未审核用户不能借
	resp, _ = s.do(t, http.MethodPost, "/api/v1/books/"+book.ID+"/borrow", readerToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// 读者不能调用管理接口
	resp, _ = s.do(t, http.MethodPatch, "/api/v1/admin/users/"+signUp.User.ID+"/status", readerToken,
		map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(t, http.MethodPatch, "/api/v1/admin/users/"+signUp.User.ID+"/status", adminToken,
		map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = s.do(t, http.MethodPost, "/api/v1/books/"+book.ID+"/borrow", readerToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var loan model.Loan
	require.NoError(t, json.Unmarshal(body, &loan))
	assert.Equal(t, model.LoanStatusActive, loan.Status)

	resp, body = s.do(t, http.MethodGet, "/api/v1/books/"+book.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &book))
	assert.Equal(t, 0, book.AvailableCopies)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/loans/me", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total":1`)
	assert.Contains(t, string(body), `"status":"returned"`)
}

func TestActivityTouchedAfterAuthenticatedRequest(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	user := &model.User{
		ID:               "user-idle",
		Email:            "idle@example.com",
		FullName:         "Idle Reader",
		PasswordHash:     "x",
		Role:             model.UserRoleUser,
		Status:           model.UserStatusApproved,
		LastActivityDate: "2024-01-01",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.store.CreateUser(ctx, user))
	token, err := auth.GenerateAccessToken(testAuth, user)
	require.NoError(t, err)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.handler.Wait()

	got, err := s.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityDay(time.Now()), got.LastActivityDate)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/books/book-123", "", nil)

	resp, body := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `bookwise_http_requests_total{method="GET",path="/api/v1/books/{id}",status="404"} 1`)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/books", "/api/v1/books"},
		{"/api/v1/books/book-1a2b", "/api/v1/books/{id}"},
		{"/api/v1/books/book-1a2b/borrow", "/api/v1/books/{id}/borrow"},
		{"/api/v1/loans/me", "/api/v1/loans/me"},
		{"/api/v1/loans/loan-9/return", "/api/v1/loans/{id}/return"},
		{"/api/v1/admin/users/user-7/status", "/api/v1/admin/users/{id}/status"},
		{"/api/v1/admin/books/book-3", "/api/v1/admin/books/{id}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}
