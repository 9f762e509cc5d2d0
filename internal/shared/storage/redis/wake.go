package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyLifecycleWake 生命周期工作流唤醒队列
	KeyLifecycleWake = "bookwise:lifecycle:wake"
	// maxWakeBacklog 队列长度上限，提示丢失只会推迟到下次轮询
	maxWakeBacklog = 1000
)

// Wake 推送一个唤醒提示
func (s *Store) Wake(ctx context.Context, userID string) error {
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, KeyLifecycleWake, userID)
	pipe.LTrim(ctx, KeyLifecycleWake, 0, maxWakeBacklog-1)
	_, err := pipe.Exec(ctx)
	return err
}

// WaitWake 阻塞等待唤醒提示，超时返回空字符串
func (s *Store) WaitWake(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := s.client.BRPop(ctx, timeout, KeyLifecycleWake).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BRPOP 返回 [key, value]
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}
