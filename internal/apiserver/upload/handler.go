// Package upload 媒体上传 - HTTP 处理
//
// 两种方式：
//   - GET /api/v1/upload-auth：签发预签名 PUT 地址，客户端直传（注册时上传学生证）
//   - POST /api/v1/admin/uploads：管理员经服务端上传封面/预告片
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/shared/objstore"
	"bookwise/internal/shared/ratelimit"
)

const (
	credentialTTL = 15 * time.Minute
	// multipart 表单除文件外的余量
	formOverhead = 1 << 20
)

// MediaStore 对象存储
type MediaStore interface {
	Upload(ctx context.Context, req objstore.UploadRequest) (*objstore.UploadResult, error)
	PresignUpload(ctx context.Context, folder, fileName string, ttl time.Duration) (*objstore.UploadCredentials, error)
}

// Handler 上传 HTTP 处理器
type Handler struct {
	media   MediaStore
	limiter *ratelimit.Limiter
}

// NewHandler 创建上传处理器；limiter 可为 nil
func NewHandler(media MediaStore, limiter *ratelimit.Limiter) *Handler {
	return &Handler{media: media, limiter: limiter}
}

// RegisterRoutes 注册上传相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	var uploadAuth http.Handler = http.HandlerFunc(h.UploadAuth)
	if h.limiter != nil {
		uploadAuth = h.limiter.Middleware("upload-auth", auth.UserOrIP, uploadAuth)
	}
	mux.Handle("GET /api/v1/upload-auth", uploadAuth)
	mux.HandleFunc("POST /api/v1/admin/uploads", auth.AdminOnly(h.Upload))
}

// UploadAuth 签发直传凭据
// GET /api/v1/upload-auth?folder=ids&file_name=card.png
//
// 未登录用户（注册流程）与普通用户只能上传学生证目录。
func (h *Handler) UploadAuth(w http.ResponseWriter, r *http.Request) {
	folder := strings.Trim(r.URL.Query().Get("folder"), "/")
	if folder == "" {
		folder = objstore.FolderIDCards
	}
	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		writeError(w, http.StatusBadRequest, "file_name is required")
		return
	}
	if folder != objstore.FolderIDCards && !auth.GetAuthUser(r.Context()).IsAdmin() {
		writeError(w, http.StatusForbidden, "folder requires admin access")
		return
	}

	creds, err := h.media.PresignUpload(r.Context(), folder, fileName, credentialTTL)
	if err != nil {
		writeUploadError(w, "upload-auth", err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// Upload 服务端上传媒体文件
// POST /api/v1/admin/uploads (multipart: folder, file)
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, objstore.MaxVideoSize+formOverhead)
	if err := r.ParseMultipartForm(formOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	folder := r.FormValue("folder")
	res, err := h.media.Upload(r.Context(), objstore.UploadRequest{
		Folder:      folder,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeUploadError(w, "upload", err)
		return
	}
	log.Printf("[upload] Stored %s (%d bytes)", res.Key, res.Size)
	writeJSON(w, http.StatusCreated, res)
}

// writeUploadError 将 UploadError 的类别映射为状态码
func writeUploadError(w http.ResponseWriter, op string, err error) {
	ue, ok := objstore.AsUploadError(err)
	if !ok {
		log.Printf("[upload.%s] error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if ue.Retryable() {
		log.Printf("[upload.%s] %s error: %v", op, ue.Kind, err)
	}
	writeJSON(w, ue.HTTPStatus(), map[string]string{
		"error": ue.Message,
		"kind":  string(ue.Kind),
	})
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
