// Package borrowing 借阅协调器
//
// 借阅在一个事务内完成：按顺序校验资格，条件扣减库存，写入借阅记录。
// 任何一步失败都回滚，库存与借阅记录不会出现不一致。
package borrowing

import (
	"context"
	"errors"
	"strings"
	"time"

	"bookwise/internal/config"
	"bookwise/internal/shared/apperr"
	"bookwise/internal/shared/model"
	"bookwise/internal/shared/storage"
	"bookwise/pkg/logging"
)

// DefaultLoanPeriod 默认借期
const DefaultLoanPeriod = 7 * 24 * time.Hour

// Policy 借阅策略
type Policy struct {
	LoanPeriod     time.Duration
	MaxActiveLoans int // 0 表示不限制
}

// PolicyFromConfig 从配置构建策略
func PolicyFromConfig(cfg config.BorrowingConfig) Policy {
	return Policy{LoanPeriod: cfg.LoanPeriod, MaxActiveLoans: cfg.MaxActiveLoans}
}

// Eligibility 借阅资格预检结果
type Eligibility struct {
	IsEligible bool   `json:"is_eligible"`
	Message    string `json:"message"`
}

// Coordinator 借阅协调器，无状态，可并发使用
type Coordinator struct {
	store  storage.LoanStore
	policy Policy
	now    func() time.Time
	logger *logging.Logger
}

// Option 协调器选项
type Option func(*Coordinator)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger 设置日志器
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator 创建借阅协调器
func NewCoordinator(store storage.LoanStore, policy Policy, opts ...Option) *Coordinator {
	if policy.LoanPeriod <= 0 {
		policy.LoanPeriod = DefaultLoanPeriod
	}
	c := &Coordinator{
		store:  store,
		policy: policy,
		now:    time.Now,
		logger: logging.Default("borrowing"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func validateIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return apperr.Validation("%s is required", pairs[i])
		}
	}
	return nil
}

// storeErr 将存储层错误映射到业务错误分类
func storeErr(op, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(what)
	default:
		return apperr.Transient(op, err)
	}
}

// checkEligibility 按顺序校验：用户存在且已审核 → 图书存在 → 有可借副本 →
// 未借同一本书 → 无逾期借阅 → 未超过借阅上限
func (c *Coordinator) checkEligibility(ctx context.Context, tx storage.LoanTx, userID, bookID string, now time.Time) error {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return storeErr("get user", "user", err)
	}
	if !user.IsApproved() {
		return ErrNotApproved
	}

	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return storeErr("get book", "book", err)
	}
	if book.AvailableCopies <= 0 {
		return ErrBookUnavailable
	}

	active, err := tx.ListActiveLoans(ctx, userID)
	if err != nil {
		return storeErr("list loans", "loans", err)
	}
	for _, l := range active {
		if l.BookID == bookID {
			return ErrAlreadyBorrowed
		}
	}
	for _, l := range active {
		if l.IsOverdue(now) {
			return ErrOverdueLoans
		}
	}
	if c.policy.MaxActiveLoans > 0 && len(active) >= c.policy.MaxActiveLoans {
		return ErrLoanLimit
	}
	return nil
}

// Borrow 借一本书
//
// 成功时库存减一并生成 active 借阅记录；失败时不修改任何数据。
// 存储层瞬时错误直接返回给调用方，不做重试。
func (c *Coordinator) Borrow(ctx context.Context, userID, bookID string) (loan *model.Loan, err error) {
	defer func() {
		borrowAttempts.WithLabelValues(result(err)).Inc()
		c.logger.WithContext(ctx).LoanLog("borrow", userID, bookID, err)
	}()

	if err := validateIDs("userId", userID, "bookId", bookID); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	err = c.store.InLoanTx(ctx, func(tx storage.LoanTx) error {
		if err := c.checkEligibility(ctx, tx, userID, bookID, now); err != nil {
			return err
		}

		// 条件扣减以持久化值为准，并发借最后一本时只有一个能命中
		ok, err := tx.DecrementAvailable(ctx, bookID)
		if err != nil {
			return apperr.Transient("decrement copies", err)
		}
		if !ok {
			return ErrBookUnavailable
		}

		l := &model.Loan{
			ID:         model.NewID(model.PrefixLoan),
			UserID:     userID,
			BookID:     bookID,
			BorrowDate: now,
			DueDate:    now.Add(c.policy.LoanPeriod),
			Status:     model.LoanStatusActive,
			CreatedAt:  now,
		}
		if err := tx.InsertLoan(ctx, l); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return ErrAlreadyBorrowed
			}
			return apperr.Transient("insert loan", err)
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, classify("borrow", err)
	}
	return loan, nil
}

// Return 归还借阅
func (c *Coordinator) Return(ctx context.Context, userID, loanID string) (loan *model.Loan, err error) {
	defer func() {
		if err == nil {
			loansReturned.Inc()
		}
		bookID := ""
		if loan != nil {
			bookID = loan.BookID
		}
		c.logger.WithContext(ctx).LoanLog("return", userID, bookID, err)
	}()

	if err := validateIDs("userId", userID, "loanId", loanID); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	err = c.store.InLoanTx(ctx, func(tx storage.LoanTx) error {
		l, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return storeErr("get loan", "loan", err)
		}
		// 不暴露他人借阅记录是否存在
		if l.UserID != userID {
			return apperr.NotFound("loan")
		}
		if !l.IsActive() {
			return ErrAlreadyReturned
		}

		ok, err := tx.MarkReturned(ctx, loanID, now)
		if err != nil {
			return apperr.Transient("mark returned", err)
		}
		if !ok {
			return ErrAlreadyReturned
		}
		restored, err := tx.IncrementAvailable(ctx, l.BookID)
		if err != nil {
			return apperr.Transient("increment copies", err)
		}
		if !restored {
			// 库存已满或图书已删除，借阅照常关闭
			c.logger.WithContext(ctx).WithUserID(userID).WithBookID(l.BookID).
				Warn("Returned loan restored no copy", "loan_id", loanID)
			returnsWithoutCopy.Inc()
		}

		l.Status = model.LoanStatusReturned
		l.ReturnDate = &now
		loan = l
		return nil
	})
	if err != nil {
		return nil, classify("return", err)
	}
	return loan, nil
}

// Eligibility 借阅资格预检（不修改数据）
func (c *Coordinator) Eligibility(ctx context.Context, userID, bookID string) (Eligibility, error) {
	if err := validateIDs("userId", userID, "bookId", bookID); err != nil {
		return Eligibility{}, err
	}

	now := c.now().UTC()
	err := c.store.InLoanTx(ctx, func(tx storage.LoanTx) error {
		return c.checkEligibility(ctx, tx, userID, bookID, now)
	})
	switch {
	case err == nil:
		return Eligibility{IsEligible: true, Message: "Book is available for borrowing"}, nil
	case errors.Is(err, ErrBookUnavailable):
		return Eligibility{Message: "Book is not available"}, nil
	case errors.Is(err, apperr.ErrNotEligible):
		return Eligibility{Message: eligibilityMessage(err)}, nil
	default:
		return Eligibility{}, classify("eligibility", err)
	}
}

func eligibilityMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotApproved):
		return "You are not eligible to borrow this book"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "You have already borrowed this book"
	case errors.Is(err, ErrOverdueLoans):
		return "Please return your overdue books first"
	case errors.Is(err, ErrLoanLimit):
		return "You have reached the maximum number of borrowed books"
	default:
		return err.Error()
	}
}

// ListLoans 用户借阅记录
func (c *Coordinator) ListLoans(ctx context.Context, userID string) ([]*model.Loan, error) {
	if err := validateIDs("userId", userID); err != nil {
		return nil, err
	}
	loans, err := c.store.ListLoansByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Transient("list loans", err)
	}
	return loans, nil
}

// classify 事务开启/提交失败等未分类错误视为瞬时错误
func classify(op string, err error) error {
	if apperr.CodeOf(err) == apperr.CodeInternal {
		return apperr.Transient(op, err)
	}
	return err
}
