package objstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// UploadErrorKind 上传失败分类
type UploadErrorKind string

const (
	KindAborted        UploadErrorKind = "aborted"
	KindInvalidRequest UploadErrorKind = "invalid_request"
	KindNetwork        UploadErrorKind = "network_error"
	KindServer         UploadErrorKind = "server_error"
)

// UploadError 统一的上传错误
type UploadError struct {
	Kind    UploadErrorKind
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("upload %s: %s", e.Kind, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// HTTPStatus 上传错误对应的 HTTP 状态码
func (e *UploadError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAborted:
		return 499 // client closed request
	case KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Retryable 网络或服务端错误可以重试
func (e *UploadError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

func invalidRequest(format string, args ...any) *UploadError {
	return &UploadError{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// AsUploadError 提取 *UploadError
func AsUploadError(err error) (*UploadError, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// classify 将 MinIO SDK / 网络错误归类
func classify(ctx context.Context, op string, err error) *UploadError {
	if err == nil {
		return nil
	}
	if ue, ok := AsUploadError(err); ok {
		return ue
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &UploadError{Kind: KindAborted, Message: op + " cancelled", Err: err}
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &UploadError{Kind: KindInvalidRequest, Message: op + " rejected: " + resp.Code, Err: err}
	case resp.StatusCode >= 500:
		return &UploadError{Kind: KindServer, Message: op + " failed: " + resp.Code, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &UploadError{Kind: KindNetwork, Message: op + " unreachable", Err: err}
	}
	return &UploadError{Kind: KindNetwork, Message: op + " failed", Err: err}
}
