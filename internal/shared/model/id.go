// Package model 领域实体
package model

import "github.com/google/uuid"

// ID 前缀
const (
	PrefixUser = "user"
	PrefixBook = "book"
	PrefixLoan = "loan"
)

// NewID 生成带前缀的唯一 ID，例如 loan-3f1c...
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
