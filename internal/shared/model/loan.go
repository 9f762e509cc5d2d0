package model

import "time"

// LoanStatus 借阅状态
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusReturned LoanStatus = "returned"
)

// Loan 借阅记录
type Loan struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	BookID     string     `json:"book_id" db:"book_id"`
	BorrowDate time.Time  `json:"borrow_date" db:"borrow_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Status     LoanStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// IsActive 是否仍在借出中
func (l *Loan) IsActive() bool {
	return l.Status == LoanStatusActive
}

// IsOverdue 在 now 时刻是否逾期未还
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.IsActive() && now.After(l.DueDate)
}
