// Package server 路由装配与核心基础设施
//
// 本包把各领域处理器组装成一个 HTTP 入口：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由与中间件链
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/apiserver/loan"
	"bookwise/internal/apiserver/upload"
	"bookwise/internal/shared/ratelimit"
	"bookwise/internal/shared/storage"
	"bookwise/pkg/logging"
)

// Deps 路由依赖
//
// Lifecycle、Media、Limiter 可为 nil，对应功能不注册或不限流。
type Deps struct {
	Store     storage.PersistentStore
	Auth      auth.Config
	Lifecycle auth.Lifecycle
	Loans     loan.Coordinator
	Media     upload.MediaStore
	Limiter   *ratelimit.Limiter

	// Registerer/Gatherer 为空时使用 Prometheus 默认注册表
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到各领域包
//   - 挂载认证、活跃度、指标中间件
type Handler struct {
	deps     Deps
	activity *auth.ActivityTracker
	metrics  *Metrics
	logger   *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(deps Deps) *Handler {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default("http")
	}
	metrics := NewMetrics("bookwise", deps.Registerer)
	metrics.SetLogger(deps.Logger)
	return &Handler{
		deps:     deps,
		activity: auth.NewActivityTracker(deps.Store, deps.Logger),
		metrics:  metrics,
		logger:   deps.Logger,
	}
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// Wait 等待请求结束后仍在执行的后台任务（活跃度写入）
func (h *Handler) Wait() {
	h.activity.Wait()
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
