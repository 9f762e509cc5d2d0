package main

import (
	"log"
	"strings"

	"bookwise/pkg/logging"
)

// serverErrorWriter 把 http.Server 内部错误转成结构化日志
// 端口扫描产生的 TLS 握手噪音直接丢弃
type serverErrorWriter struct {
	logger *logging.Logger
}

func (f *serverErrorWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if strings.Contains(msg, "TLS handshake error") {
		return len(p), nil
	}
	f.logger.Warn("HTTP server error", "error", msg)
	return len(p), nil
}

// newServerErrorLog 用于 http.Server.ErrorLog
func newServerErrorLog(logger *logging.Logger) *log.Logger {
	return log.New(&serverErrorWriter{logger: logger}, "", 0)
}
