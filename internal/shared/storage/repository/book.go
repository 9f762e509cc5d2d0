package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookwise/internal/shared/model"
	"bookwise/internal/shared/storage"
	"bookwise/internal/shared/storage/dbutil"
)

const bookColumns = `id, title, author, genre, rating, description, summary, cover_url, cover_color,
	video_url, total_copies, available_copies, created_at, updated_at`

func scanBook(row rowScanner) (*model.Book, error) {
	b := &model.Book{}
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.Rating, &b.Description, &b.Summary,
		&b.CoverURL, &b.CoverColor, &b.VideoURL, &b.TotalCopies, &b.AvailableCopies,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBook 创建图书
func (s *Store) CreateBook(ctx context.Context, book *model.Book) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO books (`+bookColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`),
		book.ID, book.Title, book.Author, book.Genre, book.Rating, book.Description, book.Summary,
		book.CoverURL, book.CoverColor, book.VideoURL, book.TotalCopies, book.AvailableCopies,
		book.CreatedAt.UTC(), book.UpdatedAt.UTC(),
	)
	return s.translate(err)
}

// GetBook 获取图书
func (s *Store) GetBook(ctx context.Context, id string) (*model.Book, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+bookColumns+` FROM books WHERE id = $1`), id)
	b, err := scanBook(row)
	return b, s.translate(err)
}

// ListBooks 按条件列出图书，最新的在前
func (s *Store) ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.Book, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Genre != "" {
		args = append(args, filter.Genre)
		conditions = append(conditions, fmt.Sprintf("genre = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		args = append(args, pattern, pattern, pattern)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(title) LIKE $%d OR LOWER(author) LIKE $%d OR LOWER(genre) LIKE $%d)", n-2, n-1, n))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	suffix := fmt.Sprintf("ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	query := dbutil.BuildDynamicQuery(s.dialect, `SELECT `+bookColumns+` FROM books`, conditions, suffix)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []*model.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateBook 更新图书元数据
//
// 总册数调整时，可借册数按同样差值调整；借出册数超过新总册数时返回 ErrConflict。
func (s *Store) UpdateBook(ctx context.Context, book *model.Book) (*model.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := scanBook(tx.QueryRowContext(ctx, s.rebind(
		`SELECT `+bookColumns+` FROM books WHERE id = $1 `+s.dialect.ForUpdate()), book.ID))
	if err != nil {
		return nil, s.translate(err)
	}

	available := current.AvailableCopies + (book.TotalCopies - current.TotalCopies)
	if available < 0 {
		return nil, fmt.Errorf("%w: %d copies are on loan", storage.ErrConflict,
			current.TotalCopies-current.AvailableCopies)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE books SET title = $1, author = $2, genre = $3, rating = $4, description = $5, summary = $6,
		 cover_url = $7, cover_color = $8, video_url = $9, total_copies = $10, available_copies = $11,
		 updated_at = $12 WHERE id = $13`),
		book.Title, book.Author, book.Genre, book.Rating, book.Description, book.Summary,
		book.CoverURL, book.CoverColor, book.VideoURL, book.TotalCopies, available, now, book.ID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := *book
	updated.AvailableCopies = available
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = now
	return &updated, nil
}

// DeleteBook 删除图书及其已归还的借阅记录；存在在借记录时返回 ErrConflict
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM loans WHERE book_id = $1 AND status = $2`),
		id, model.LoanStatusActive).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: book has %d active loans", storage.ErrConflict, active)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM loans WHERE book_id = $1`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM books WHERE id = $1`), id)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return tx.Commit()
}
