package lifecycle

import (
	"time"

	"bookwise/internal/shared/model"
)

const (
	day = 24 * time.Hour
	// inactiveAfter 超过该时长未活跃视为不活跃
	inactiveAfter = 3 * day
	// inactiveUntil 超过该时长后重新按活跃处理（沿用线上行为）
	inactiveUntil = 30 * day
)

// Classify 根据最近活跃日期判定用户状态
//
// 3 天 < Δ ≤ 30 天为 NonActive，其余为 Active；Δ > 30 天同样返回 Active。
func Classify(now, lastActivity time.Time) model.UserState {
	delta := now.Sub(lastActivity)
	if delta > inactiveAfter && delta <= inactiveUntil {
		return model.UserStateNonActive
	}
	return model.UserStateActive
}

// classifyUser 用户不存在或从未记录活跃日期时按 NonActive 处理
func classifyUser(now time.Time, user *model.User) model.UserState {
	if user == nil {
		return model.UserStateNonActive
	}
	last, ok := user.LastActivity()
	if !ok {
		return model.UserStateNonActive
	}
	return Classify(now, last)
}
