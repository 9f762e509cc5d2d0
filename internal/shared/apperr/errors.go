// Package apperr 业务错误分类
//
// 所有面向调用方的错误都应包装下列哨兵错误之一，
// 处理层通过 errors.Is 决定 HTTP 状态码与错误码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation 输入不合法
	ErrValidation = errors.New("validation error")
	// ErrNotEligible 业务规则不满足（例如无可借副本）
	ErrNotEligible = errors.New("not eligible")
	// ErrNotFound 用户或图书不存在
	ErrNotFound = errors.New("not found")
	// ErrTransient 存储或外部依赖暂时不可用
	ErrTransient = errors.New("transient io error")
	// ErrRateLimited 请求过于频繁
	ErrRateLimited = errors.New("rate limited")
)

// Code 错误码（用于 JSON 响应）
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotEligible Code = "NOT_ELIGIBLE"
	CodeNotFound    Code = "NOT_FOUND"
	CodeTransient   Code = "TRANSIENT_IO_ERROR"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeInternal    Code = "INTERNAL"
)

// Validation 构造 ErrValidation
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound 构造 ErrNotFound
func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// Transient 将底层错误标记为瞬时错误
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// IsTerminal 是否为终止性错误（重试无意义）
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotEligible) || errors.Is(err, ErrNotFound)
}

// CodeOf 返回错误对应的错误码
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotEligible):
		return CodeNotEligible
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTransient):
		return CodeTransient
	default:
		return CodeInternal
	}
}

// HTTPStatus 返回错误对应的 HTTP 状态码
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return http.StatusOK
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotEligible:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
