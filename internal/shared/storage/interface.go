// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在 repository/，由 driver/ 提供连接与方言
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"
	"time"

	"bookwise/internal/shared/model"
)

// UserStore 用户存储
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateUserStatus(ctx context.Context, id string, status model.UserStatus) error
	// TouchUserActivity 仅当已记录日期早于 day 时更新，返回是否发生写入
	TouchUserActivity(ctx context.Context, id, day string) (bool, error)
}

// BookStore 图书存储
type BookStore interface {
	CreateBook(ctx context.Context, book *model.Book) error
	GetBook(ctx context.Context, id string) (*model.Book, error)
	ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.Book, error)
	// UpdateBook 更新元数据；TotalCopies 变化时按差值调整 AvailableCopies
	UpdateBook(ctx context.Context, book *model.Book) (*model.Book, error)
	DeleteBook(ctx context.Context, id string) error
}

// LoanTx 借阅事务内可用的操作
//
// 所有读写都在同一事务中执行；GetBook 在支持的数据库上对图书行加锁。
type LoanTx interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	GetLoan(ctx context.Context, id string) (*model.Loan, error)
	ListActiveLoans(ctx context.Context, userID string) ([]*model.Loan, error)
	// DecrementAvailable 条件扣减：仅当 available_copies > 0 时成功
	DecrementAvailable(ctx context.Context, bookID string) (bool, error)
	// IncrementAvailable 条件归还：仅当 available_copies < total_copies 时成功
	IncrementAvailable(ctx context.Context, bookID string) (bool, error)
	InsertLoan(ctx context.Context, loan *model.Loan) error
	// MarkReturned 条件更新：仅 active 状态的借阅可以归还
	MarkReturned(ctx context.Context, loanID string, at time.Time) (bool, error)
}

// LoanStore 借阅存储
type LoanStore interface {
	// InLoanTx 在事务中执行 fn；fn 返回错误时回滚
	InLoanTx(ctx context.Context, fn func(tx LoanTx) error) error
	GetLoan(ctx context.Context, id string) (*model.Loan, error)
	ListLoansByUser(ctx context.Context, userID string) ([]*model.Loan, error)
}

// WorkflowStore 生命周期工作流检查点存储
type WorkflowStore interface {
	// CreateWorkflowIfAbsent 已存在时不覆盖，返回是否新建
	CreateWorkflowIfAbsent(ctx context.Context, wf *model.LifecycleWorkflow) (bool, error)
	GetWorkflow(ctx context.Context, userID string) (*model.LifecycleWorkflow, error)
	// ListDueWorkflows 列出 next_run_at <= now 的运行中工作流
	ListDueWorkflows(ctx context.Context, now time.Time, limit int) ([]*model.LifecycleWorkflow, error)
	// ClaimWorkflow 以 next_run_at 为版本号租用一步：成功后 next_run_at = leaseUntil
	ClaimWorkflow(ctx context.Context, userID string, expected, leaseUntil time.Time) (bool, error)
	// SaveWorkflow 写入检查点；仅当仍持有租约（next_run_at == lease）且未取消时成功
	SaveWorkflow(ctx context.Context, wf *model.LifecycleWorkflow, lease time.Time) (bool, error)
	CancelWorkflow(ctx context.Context, userID string) (bool, error)
}

// PersistentStore 持久化存储聚合接口
type PersistentStore interface {
	UserStore
	BookStore
	LoanStore
	WorkflowStore
	Close() error
}
