// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserIDKey    ContextKey = "user_id"
	BookIDKey    ContextKey = "book_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// parseLevel 解析日志级别，未知值按 info 处理
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}
	return NewWithWriter(output, cfg)
}

// NewWithWriter 输出到指定 writer（测试用）
func NewWithWriter(w io.Writer, cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger:    slog.New(handler).With(slog.String("component", cfg.Component)),
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard 丢弃所有输出
func Discard() *Logger {
	return NewWithWriter(io.Discard, Config{Level: "error"})
}

// Component 组件名
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// ContextWithUserID 在上下文中记录用户 ID
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// ContextWithRequestID 在上下文中记录请求 ID
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithContext 从上下文提取请求信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range []ContextKey{RequestIDKey, UserIDKey, BookIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithUserID 添加 User ID
func (l *Logger) WithUserID(userID string) *Logger {
	return l.with(slog.String(string(UserIDKey), userID))
}

// WithBookID 添加 Book ID
func (l *Logger) WithBookID(bookID string) *Logger {
	return l.with(slog.String(string(BookIDKey), bookID))
}

// WithStep 添加工作流步骤
func (l *Logger) WithStep(step string) *Logger {
	return l.with(slog.String("step", step))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	log := l.WithDuration(duration)
	attrs := []any{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("client_ip", clientIP),
	}
	if status >= 500 {
		log.Error("HTTP request", attrs...)
		return
	}
	log.Info("HTTP request", attrs...)
}

// LoanLog 借阅事件日志
func (l *Logger) LoanLog(action, userID, bookID string, err error) {
	log := l.WithUserID(userID).WithBookID(bookID)
	if err != nil {
		log.WithError(err).Warn("Loan rejected", slog.String("action", action))
		return
	}
	log.Info("Loan event", slog.String("action", action))
}

// StepLog 工作流步骤日志
func (l *Logger) StepLog(userID, step string, attempt int, err error) {
	log := l.WithUserID(userID).WithStep(step)
	if err != nil {
		log.WithError(err).Warn("Workflow step failed", slog.Int("attempt", attempt))
		return
	}
	log.Info("Workflow step done", slog.Int("attempt", attempt))
}
