package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bookwise/internal/shared/model"
	"bookwise/pkg/logging"
)

// ActivityStore 活跃日期写入
type ActivityStore interface {
	TouchUserActivity(ctx context.Context, id, day string) (bool, error)
}

// ActivityTracker 在响应写出后记录用户当天活跃
//
// 每个用户每个日历日（UTC）最多写库一次；写入失败只记录日志，不影响响应。
type ActivityTracker struct {
	store   ActivityStore
	now     func() time.Time
	timeout time.Duration
	logger  *logging.Logger

	mu   sync.Mutex
	day  string            // seen 对应的日期，跨日时清理
	seen map[string]string // userID -> 已记录的日期

	wg sync.WaitGroup
}

// NewActivityTracker 创建活跃度记录器
func NewActivityTracker(store ActivityStore, logger *logging.Logger) *ActivityTracker {
	if logger == nil {
		logger = logging.Default("activity")
	}
	return &ActivityTracker{
		store:   store,
		now:     time.Now,
		timeout: 2 * time.Second,
		logger:  logger,
		seen:    make(map[string]string),
	}
}

// Middleware 处理完成后在后台执行 Touch，不占用响应；必须位于认证中间件之内
func (t *ActivityTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		user := GetAuthUser(r.Context())
		if user == nil || t.recorded(user.ID) {
			return
		}
		ctx := context.WithoutCancel(r.Context())
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.Touch(ctx, user.ID)
		}()
	})
}

// Wait 等待后台 Touch 全部结束，关闭时调用
func (t *ActivityTracker) Wait() {
	t.wg.Wait()
}

// recorded 今天是否已写库；跨日时丢弃旧日期的记录
func (t *ActivityTracker) recorded(userID string) bool {
	day := model.ActivityDay(t.now())
	t.mu.Lock()
	defer t.mu.Unlock()
	if day > t.day {
		for id, d := range t.seen {
			if d < day {
				delete(t.seen, id)
			}
		}
		t.day = day
	}
	return t.seen[userID] == day
}

// Touch 记录 userID 今天活跃，返回是否写库
func (t *ActivityTracker) Touch(ctx context.Context, userID string) bool {
	if t.recorded(userID) {
		return false
	}
	day := model.ActivityDay(t.now())

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if _, err := t.store.TouchUserActivity(ctx, userID, day); err != nil {
		t.logger.WithUserID(userID).WithError(err).Warn("Failed to record activity")
		return false
	}

	t.mu.Lock()
	if t.seen[userID] < day {
		t.seen[userID] = day
	}
	t.mu.Unlock()
	return true
}
