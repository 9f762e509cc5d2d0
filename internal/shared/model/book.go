package model

import "time"

// Book 馆藏图书
//
// 约束：0 <= AvailableCopies <= TotalCopies
type Book struct {
	ID              string    `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Genre           string    `json:"genre" db:"genre"`
	Rating          int       `json:"rating" db:"rating"`
	Description     string    `json:"description" db:"description"`
	Summary         string    `json:"summary" db:"summary"`
	CoverURL        string    `json:"cover_url" db:"cover_url"`
	CoverColor      string    `json:"cover_color" db:"cover_color"`
	VideoURL        string    `json:"video_url" db:"video_url"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// InventoryValid 库存数字是否满足约束
func (b *Book) InventoryValid() bool {
	return b.AvailableCopies >= 0 && b.TotalCopies >= b.AvailableCopies
}

// BookFilter 图书列表查询条件
type BookFilter struct {
	Query  string // 模糊匹配标题/作者/类别
	Genre  string
	Limit  int
	Offset int
}
