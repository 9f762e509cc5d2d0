package repository

import (
	"context"
	"database/sql"
	"time"

	"bookwise/internal/shared/model"
	"bookwise/internal/shared/storage"
)

const userColumns = `id, email, full_name, university_id, university_card, password_hash,
	role, status, last_activity_date, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var lastActivity sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.UniversityID, &u.UniversityCard, &u.PasswordHash,
		&u.Role, &u.Status, &lastActivity, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.LastActivityDate = lastActivity.String
	return u, nil
}

// CreateUser 创建用户
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	var lastActivity sql.NullString
	if user.LastActivityDate != "" {
		lastActivity = sql.NullString{String: user.LastActivityDate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`),
		user.ID, user.Email, user.FullName, user.UniversityID, user.UniversityCard, user.PasswordHash,
		user.Role, user.Status, lastActivity, user.CreatedAt.UTC(), user.UpdatedAt.UTC(),
	)
	return s.translate(err)
}

// GetUserByID 通过 ID 查找用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = $1`), id)
	u, err := scanUser(row)
	return u, s.translate(err)
}

// GetUserByEmail 通过邮箱查找用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE email = $1`), email)
	u, err := scanUser(row)
	return u, s.translate(err)
}

// ListUsers 列出所有用户
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserStatus 更新审核状态
func (s *Store) UpdateUserStatus(ctx context.Context, id string, status model.UserStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`),
		status, time.Now().UTC(), id)
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
	return nil
}

// TouchUserActivity 记录当日活跃
//
// 条件更新保证 last_activity_date 单调不减，同一天内重复调用不产生写入。
// YYYY-MM-DD 的字典序与日期顺序一致。
func (s *Store) TouchUserActivity(ctx context.Context, id, day string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET last_activity_date = $1
		 WHERE id = $2 AND (last_activity_date IS NULL OR last_activity_date < $3)`),
		day, id, day)
	if err != nil {
		return false, err
	}
	return affected(res)
}
