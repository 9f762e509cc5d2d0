package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bookwise/internal/shared/model"
	"bookwise/internal/shared/storage"
)

const loanColumns = `id, user_id, book_id, borrow_date, due_date, return_date, status, created_at`

func scanLoan(row rowScanner) (*model.Loan, error) {
	l := &model.Loan{}
	var returnDate sql.NullTime
	if err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.BorrowDate, &l.DueDate,
		&returnDate, &l.Status, &l.CreatedAt); err != nil {
		return nil, err
	}
	if returnDate.Valid {
		t := returnDate.Time
		l.ReturnDate = &t
	}
	return l, nil
}

// queryer *sql.DB 与 *sql.Tx 的公共部分
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) listLoans(ctx context.Context, q queryer, query string, args ...any) ([]*model.Loan, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := []*model.Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// GetLoan 获取借阅记录
func (s *Store) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`), id))
	return l, s.translate(err)
}

// ListLoansByUser 列出用户全部借阅记录，最新的在前
func (s *Store) ListLoansByUser(ctx context.Context, userID string) ([]*model.Loan, error) {
	return s.listLoans(ctx, s.db,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = $1 ORDER BY borrow_date DESC`, userID)
}

// InLoanTx 在事务中执行借阅/归还
func (s *Store) InLoanTx(ctx context.Context, fn func(tx storage.LoanTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&loanTx{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// loanTx 事务内只使用 tx，不能回退到 s.db（SQLite 单连接下会死锁）
type loanTx struct {
	store *Store
	tx    *sql.Tx
}

var _ storage.LoanTx = (*loanTx)(nil)

func (t *loanTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, t.store.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = $1`), id))
	return u, t.store.translate(err)
}

func (t *loanTx) GetBook(ctx context.Context, id string) (*model.Book, error) {
	b, err := scanBook(t.tx.QueryRowContext(ctx, t.store.rebind(
		`SELECT `+bookColumns+` FROM books WHERE id = $1 `+t.store.dialect.ForUpdate()), id))
	return b, t.store.translate(err)
}

func (t *loanTx) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	l, err := scanLoan(t.tx.QueryRowContext(ctx, t.store.rebind(
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 `+t.store.dialect.ForUpdate()), id))
	return l, t.store.translate(err)
}

func (t *loanTx) ListActiveLoans(ctx context.Context, userID string) ([]*model.Loan, error) {
	return t.store.listLoans(ctx, t.tx,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = $1 AND status = $2 ORDER BY due_date`,
		userID, model.LoanStatusActive)
}

func (t *loanTx) DecrementAvailable(ctx context.Context, bookID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.store.rebind(
		`UPDATE books SET available_copies = available_copies - 1, updated_at = $1
		 WHERE id = $2 AND available_copies > 0`),
		time.Now().UTC(), bookID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (t *loanTx) IncrementAvailable(ctx context.Context, bookID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.store.rebind(
		`UPDATE books SET available_copies = available_copies + 1, updated_at = $1
		 WHERE id = $2 AND available_copies < total_copies`),
		time.Now().UTC(), bookID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (t *loanTx) InsertLoan(ctx context.Context, loan *model.Loan) error {
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO loans (`+loanColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		loan.ID, loan.UserID, loan.BookID, loan.BorrowDate.UTC(), loan.DueDate.UTC(),
		nil, loan.Status, loan.CreatedAt.UTC(),
	)
	return t.store.translate(err)
}

func (t *loanTx) MarkReturned(ctx context.Context, loanID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.store.rebind(
		`UPDATE loans SET status = $1, return_date = $2 WHERE id = $3 AND status = $4`),
		model.LoanStatusReturned, at.UTC(), loanID, model.LoanStatusActive)
	if err != nil {
		return false, err
	}
	return affected(res)
}
