// Package lifecycle 用户生命周期工作流引擎
//
// 每个注册用户对应一条持久化检查点（步骤 + 下次运行时间）。
// 引擎轮询到期的检查点，租用后执行一步并写回新的检查点；
// 进程重启后从检查点继续，已经完成的步骤不会重做。
//
// 步骤流转：
//
//	send_welcome -> (等待 WelcomeDelay) -> check_state -> send_state_email
//	      ^                                                    |
//	      +------------- check_state <- (等待 CycleDelay) <----+
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"bookwise/internal/config"
	"bookwise/internal/shared/apperr"
	"bookwise/internal/shared/model"
	"bookwise/internal/shared/notify"
	"bookwise/internal/shared/storage"
	"bookwise/pkg/logging"
)

// 每次租用后最多连续推进的步骤数（check_state 之后立即发送状态邮件）
const maxStepsPerClaim = 3

// Store 引擎依赖的存储
type Store interface {
	storage.WorkflowStore
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Waker 跨进程唤醒通道
type Waker interface {
	Wake(ctx context.Context, userID string) error
	// WaitWake 阻塞至多 timeout，超时返回空字符串
	WaitWake(ctx context.Context, timeout time.Duration) (string, error)
}

// Engine 生命周期工作流引擎
type Engine struct {
	store      Store
	dispatcher notify.Dispatcher
	cfg        config.LifecycleConfig
	waker      Waker
	now        func() time.Time
	logger     *logging.Logger
	kick       chan struct{}
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger 设置日志器
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithWaker 设置跨进程唤醒通道
func WithWaker(w Waker) Option {
	return func(e *Engine) { e.waker = w }
}

// NewEngine 创建引擎；cfg 中未设置的字段使用默认值
func NewEngine(store Store, dispatcher notify.Dispatcher, cfg config.LifecycleConfig, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		cfg:        withDefaults(cfg),
		now:        time.Now,
		logger:     logging.Default("lifecycle"),
		kick:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func withDefaults(cfg config.LifecycleConfig) config.LifecycleConfig {
	if cfg.WelcomeDelay <= 0 {
		cfg.WelcomeDelay = 3 * day
	}
	if cfg.CycleDelay <= 0 {
		cfg.CycleDelay = 30 * day
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 30 * time.Second
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = max(time.Hour, cfg.RetryBase)
	}
	if cfg.StepLease <= 0 {
		cfg.StepLease = 5 * time.Minute
	}
	return cfg
}

// Start 为新用户登记工作流；已存在时不重复登记，返回是否新建
func (e *Engine) Start(ctx context.Context, userID, email, fullName string) (bool, error) {
	if userID == "" || email == "" {
		return false, apperr.Validation("userId and email are required")
	}
	now := e.now().UTC()
	created, err := e.store.CreateWorkflowIfAbsent(ctx, &model.LifecycleWorkflow{
		UserID:    userID,
		Email:     email,
		FullName:  fullName,
		Step:      model.StepSendWelcome,
		Status:    model.WorkflowStatusRunning,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return false, apperr.Transient("create workflow", err)
	}
	if created {
		e.Kick()
		if e.waker != nil {
			if err := e.waker.Wake(ctx, userID); err != nil {
				e.logger.WithUserID(userID).WithError(err).Warn("Failed to publish lifecycle wake")
			}
		}
	}
	return created, nil
}

// Cancel 取消用户的工作流，返回是否存在运行中的实例
func (e *Engine) Cancel(ctx context.Context, userID string) (bool, error) {
	ok, err := e.store.CancelWorkflow(ctx, userID)
	if err != nil {
		return false, apperr.Transient("cancel workflow", err)
	}
	return ok, nil
}

// Get 查询用户的工作流检查点
func (e *Engine) Get(ctx context.Context, userID string) (*model.LifecycleWorkflow, error) {
	wf, err := e.store.GetWorkflow(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("workflow")
	}
	if err != nil {
		return nil, apperr.Transient("get workflow", err)
	}
	return wf, nil
}

// Kick 通知本进程的轮询循环立即扫描一次
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run 轮询到期的工作流直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	wakes := make(chan struct{}, 1)
	if e.waker != nil {
		go e.listen(ctx, wakes)
	}

	e.logger.Info("Lifecycle engine started",
		"poll_interval", e.cfg.PollInterval.String(), "concurrency", e.cfg.Concurrency)
	for {
		start := time.Now()
		advanced, err := e.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			e.logger.WithError(err).Error("Lifecycle poll failed")
		case advanced > 0:
			e.logger.WithDuration(time.Since(start)).Debug("Lifecycle batch processed", "advanced", advanced)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Lifecycle engine stopped")
			return nil
		case <-ticker.C:
		case <-e.kick:
		case <-wakes:
		}
	}
}

// listen 把跨进程唤醒转成本地信号
func (e *Engine) listen(ctx context.Context, wakes chan<- struct{}) {
	for ctx.Err() == nil {
		userID, err := e.waker.WaitWake(ctx, e.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.WithError(err).Warn("Lifecycle wake wait failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}
		if userID == "" {
			continue
		}
		select {
		case wakes <- struct{}{}:
		default:
		}
	}
}

// RunOnce 处理一批到期的工作流，返回成功推进的实例数
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	due, err := e.store.ListDueWorkflows(ctx, e.now().UTC(), e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due workflows: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	results := make([]bool, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, wf := range due {
		g.Go(func() error {
			results[i] = e.process(gctx, wf)
			return nil
		})
	}
	_ = g.Wait()

	advanced := 0
	for _, ok := range results {
		if ok {
			advanced++
		}
	}
	return advanced, nil
}

// process 租用并推进单个工作流，直到进入等待或失败
func (e *Engine) process(ctx context.Context, wf *model.LifecycleWorkflow) bool {
	log := e.logger.WithUserID(wf.UserID)
	advanced := false
	for i := 0; i < maxStepsPerClaim; i++ {
		now := e.now().UTC()
		if wf.NextRunAt.After(now) || ctx.Err() != nil {
			break
		}
		lease := now.Add(e.cfg.StepLease)
		claimed, err := e.store.ClaimWorkflow(ctx, wf.UserID, wf.NextRunAt, lease)
		if err != nil {
			log.WithError(err).Warn("Failed to claim workflow")
			break
		}
		if !claimed {
			// 其他执行者已租用或已取消
			break
		}

		next, stepErr := e.execute(ctx, wf, now)
		if stepErr != nil {
			next = e.retry(wf, now, stepErr)
		}
		stepsTotal.WithLabelValues(string(wf.Step), stepResult(stepErr)).Inc()
		e.logger.StepLog(wf.UserID, string(wf.Step), wf.Attempts+1, stepErr)

		saved, err := e.store.SaveWorkflow(ctx, next, lease)
		if err != nil {
			// 检查点未写入：租约到期后本步会被重新执行
			log.WithStep(string(wf.Step)).WithError(err).Error("Failed to save workflow checkpoint")
			break
		}
		if !saved {
			log.WithStep(string(wf.Step)).Warn("Workflow lease lost before checkpoint")
			break
		}
		if stepErr != nil {
			break
		}
		advanced = true
		wf = next
	}
	return advanced
}

// execute 执行当前步骤，返回成功后的检查点
func (e *Engine) execute(ctx context.Context, wf *model.LifecycleWorkflow, now time.Time) (*model.LifecycleWorkflow, error) {
	next := *wf
	next.Attempts = 0
	next.LastError = ""

	switch wf.Step {
	case model.StepSendWelcome:
		if err := e.send(ctx, notify.TemplateWelcome, notify.Welcome(wf.Email, wf.FullName)); err != nil {
			return nil, err
		}
		next.Step = model.StepCheckState
		next.NextRunAt = now.Add(e.cfg.WelcomeDelay)

	case model.StepCheckState:
		user, err := e.store.GetUserByID(ctx, wf.UserID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Transient("get user", err)
		}
		next.Notice = classifyUser(now, user)
		next.Step = model.StepSendStateEmail
		next.NextRunAt = now

	case model.StepSendStateEmail:
		tmpl, msg := notify.TemplateActive, notify.Active(wf.Email, wf.FullName)
		if wf.Notice == model.UserStateNonActive {
			tmpl, msg = notify.TemplateNonActive, notify.NonActive(wf.Email, wf.FullName)
		}
		if err := e.send(ctx, tmpl, msg); err != nil {
			return nil, err
		}
		next.Step = model.StepCheckState
		next.Cycles++
		next.NextRunAt = now.Add(e.cfg.CycleDelay)

	default:
		return nil, apperr.Validation("unknown workflow step %q", wf.Step)
	}
	return &next, nil
}

func (e *Engine) send(ctx context.Context, template string, msg notify.Message) error {
	if err := e.dispatcher.Send(ctx, msg); err != nil {
		return apperr.Transient("send "+template+" email", err)
	}
	notificationsSent.WithLabelValues(template).Inc()
	return nil
}

// retry 失败时保持当前步骤，按指数退避推迟下次运行
func (e *Engine) retry(wf *model.LifecycleWorkflow, now time.Time, err error) *model.LifecycleWorkflow {
	next := *wf
	next.Attempts++
	next.LastError = err.Error()
	next.NextRunAt = now.Add(e.backoff(next.Attempts))
	return &next
}

// backoff 第 n 次失败后的等待时长：base*2^(n-1)，上限 RetryMax，带一半抖动
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBase
	for i := 1; i < attempt && d < e.cfg.RetryMax; i++ {
		d *= 2
	}
	d = min(d, e.cfg.RetryMax)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

func stepResult(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
