package model

import "time"

// UserRole 用户角色
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// UserStatus 账号审核状态
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
	UserStatusRejected UserStatus = "rejected"
)

// Valid 是否为合法状态
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusPending, UserStatusApproved, UserStatusRejected:
		return true
	}
	return false
}

// ActivityDateLayout lastActivityDate 的存储格式（日历日期）
const ActivityDateLayout = "2006-01-02"

// User 读者账号
type User struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	FullName         string     `json:"full_name" db:"full_name"`
	UniversityID     int        `json:"university_id" db:"university_id"`
	UniversityCard   string     `json:"university_card" db:"university_card"`
	PasswordHash     string     `json:"-" db:"password_hash"` // never expose in JSON
	Role             UserRole   `json:"role" db:"role"`
	Status           UserStatus `json:"status" db:"status"`
	LastActivityDate string     `json:"last_activity_date,omitempty" db:"last_activity_date"` // YYYY-MM-DD
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// IsApproved 账号是否已审核通过
func (u *User) IsApproved() bool {
	return u.Status == UserStatusApproved
}

// LastActivity 解析 lastActivityDate，未记录时 ok=false
func (u *User) LastActivity() (t time.Time, ok bool) {
	if u.LastActivityDate == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(ActivityDateLayout, u.LastActivityDate, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ActivityDay 返回 t 所在的 UTC 日历日期
func ActivityDay(t time.Time) string {
	return t.UTC().Format(ActivityDateLayout)
}
