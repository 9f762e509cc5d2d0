// Package notify 邮件通知发送
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"

	"bookwise/internal/config"
	"bookwise/pkg/logging"
)

// Message 一封邮件
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Dispatcher 邮件发送接口
//
// 至少一次语义，不保证幂等；调用方需容忍重试导致的重复发送。
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// emailSender resend.EmailsSvc 中用到的方法
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendDispatcher 通过 Resend API 发送
type ResendDispatcher struct {
	emails emailSender
	from   string
}

// NewResendDispatcher 创建 Resend 发送器
func NewResendDispatcher(apiKey, from string) (*ResendDispatcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	client := resend.NewClient(apiKey)
	return &ResendDispatcher{emails: client.Emails, from: from}, nil
}

// Send 发送邮件
func (d *ResendDispatcher) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient is required")
	}
	_, err := d.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    d.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend to %s: %w", msg.To, err)
	}
	return nil
}

// LogDispatcher 只记录日志（开发环境）
type LogDispatcher struct {
	logger *logging.Logger
}

// NewLogDispatcher 创建日志发送器
func NewLogDispatcher(logger *logging.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send 记录邮件内容
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.WithContext(ctx).Info("Email (not sent)",
		"to", msg.To, "subject", msg.Subject, "html_bytes", len(msg.HTML))
	return nil
}

// FromConfig 按配置选择发送器
func FromConfig(cfg config.MailConfig, logger *logging.Logger) (Dispatcher, error) {
	switch strings.ToLower(cfg.Provider) {
	case "resend":
		return NewResendDispatcher(cfg.APIKey, cfg.From)
	case "log", "":
		return NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}
