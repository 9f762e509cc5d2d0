package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookwise/internal/config"
	"bookwise/internal/shared/apperr"
	"bookwise/internal/shared/model"
	"bookwise/internal/shared/notify"
	sqlitedriver "bookwise/internal/shared/storage/driver/sqlite"
	redisstore "bookwise/internal/shared/storage/redis"
	"bookwise/internal/shared/storage/repository"
	"bookwise/pkg/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []notify.Message
	fails int
}

func (d *fakeDispatcher) Send(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		return errors.New("smtp: connection reset")
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *fakeDispatcher) failNext(n int) {
	d.mu.Lock()
	d.fails = n
	d.mu.Unlock()
}

func (d *fakeDispatcher) subjects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, m := range d.sent {
		out = append(out, m.Subject)
	}
	return out
}

const (
	subjectWelcome   = "Welcome to BookWise"
	subjectNonActive = "Long Time No See On BookWise"
	subjectActive    = "Well done!"
)

var testLifecycle = config.LifecycleConfig{
	WelcomeDelay: 3 * day,
	CycleDelay:   30 * day,
	PollInterval: 20 * time.Millisecond,
	BatchSize:    10,
	Concurrency:  4,
	RetryBase:    30 * time.Second,
	RetryMax:     time.Hour,
	StepLease:    5 * time.Minute,
}

type testEnv struct {
	store *repository.Store
	clock *fakeClock
	mail  *fakeDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	return &testEnv{
		store: store,
		clock: &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		mail:  &fakeDispatcher{},
	}
}

// engine 每次调用都返回新实例，模拟进程重启
func (e *testEnv) engine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(e.clock.Now), WithLogger(logging.Discard())}, opts...)
	return NewEngine(e.store, e.mail, testLifecycle, opts...)
}

func (e *testEnv) addUser(t *testing.T, id, lastActivity string) {
	t.Helper()
	now := e.clock.Now()
	require.NoError(t, e.store.CreateUser(context.Background(), &model.User{
		ID: id, Email: id + "@example.com", FullName: "Reader " + id, PasswordHash: "x",
		Role: model.UserRoleUser, Status: model.UserStatusPending,
		LastActivityDate: lastActivity, CreatedAt: now, UpdatedAt: now,
	}))
}

func (e *testEnv) workflow(t *testing.T, userID string) *model.LifecycleWorkflow {
	t.Helper()
	wf, err := e.store.GetWorkflow(context.Background(), userID)
	require.NoError(t, err)
	return wf
}

func TestStartIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	eng := env.engine()
	ctx := context.Background()

	created, err := eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)
	assert.False(t, created)

	wf, err := eng.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StepSendWelcome, wf.Step)
	assert.True(t, wf.IsRunning())

	_, err = eng.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = eng.Start(ctx, "", "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFullCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, "u1", "2024-06-01")
	eng := env.engine()

	_, err := eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)

	n, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{subjectWelcome}, env.mail.subjects())

	wf := env.workflow(t, "u1")
	assert.Equal(t, model.StepCheckState, wf.Step)
	assert.Equal(t, env.clock.Now().Add(3*day).Unix(), wf.NextRunAt.Unix())

	// 等待期内不做任何事
	env.clock.Advance(2 * day)
	n, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, env.mail.subjects(), 1)

	// 第 5 天：3 天 < Δ ≤ 30 天 -> 召回邮件
	env.clock.Advance(3 * day)
	n, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{subjectWelcome, subjectNonActive}, env.mail.subjects())

	wf = env.workflow(t, "u1")
	assert.Equal(t, model.StepCheckState, wf.Step)
	assert.Equal(t, model.UserStateNonActive, wf.Notice)
	assert.Equal(t, 1, wf.Cycles)
	assert.Equal(t, env.clock.Now().Add(30*day).Unix(), wf.NextRunAt.Unix())

	// 用户在下一轮前变为活跃
	_, err = env.store.TouchUserActivity(ctx, "u1", model.ActivityDay(env.clock.Now().Add(29*day)))
	require.NoError(t, err)
	env.clock.Advance(30 * day)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{subjectWelcome, subjectNonActive, subjectActive}, env.mail.subjects())
	assert.Equal(t, 2, env.workflow(t, "u1").Cycles)
}

func TestResumeAfterRestartDoesNotResendWelcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, "u1", "2024-06-03")

	first := env.engine()
	_, err := first.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)
	_, err = first.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{subjectWelcome}, env.mail.subjects())

	// 进程在等待期内重启
	env.clock.Advance(day)
	restarted := env.engine()
	_, err = restarted.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)
	n, err := restarted.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{subjectWelcome}, env.mail.subjects())

	// Day 3 后继续 check_state，只发一封状态邮件
	env.clock.Advance(2*day + time.Minute)
	_, err = restarted.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{subjectWelcome, subjectActive}, env.mail.subjects())
}

func TestCrashMidStepResumesAfterLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.engine()
	_, err := eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)

	// 另一个执行者租用后崩溃，未写检查点
	wf := env.workflow(t, "u1")
	ok, err := env.store.ClaimWorkflow(ctx, "u1", wf.NextRunAt, env.clock.Now().Add(testLifecycle.StepLease))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.mail.subjects())

	env.clock.Advance(testLifecycle.StepLease)
	n, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{subjectWelcome}, env.mail.subjects())
}

func TestTransientFailureKeepsPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.engine()
	_, err := eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)

	env.mail.failNext(2)
	n, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	wf := env.workflow(t, "u1")
	assert.Equal(t, model.StepSendWelcome, wf.Step)
	assert.Equal(t, 1, wf.Attempts)
	assert.Contains(t, wf.LastError, "connection reset")
	delay := wf.NextRunAt.Sub(env.clock.Now())
	assert.GreaterOrEqual(t, delay, 14*time.Second)
	assert.LessOrEqual(t, delay, 30*time.Second)

	// 未到重试时间
	n, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(time.Minute)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.workflow(t, "u1").Attempts)

	env.clock.Advance(testLifecycle.RetryMax)
	n, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{subjectWelcome}, env.mail.subjects())

	wf = env.workflow(t, "u1")
	assert.Equal(t, model.StepCheckState, wf.Step)
	assert.Zero(t, wf.Attempts)
	assert.Empty(t, wf.LastError)
}

func TestStateEmailRetryKeepsClassification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, "u1", "2024-06-01")
	eng := env.engine()
	_, err := eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)

	env.clock.Advance(5 * day)
	env.mail.failNext(1)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)

	wf := env.workflow(t, "u1")
	assert.Equal(t, model.StepSendStateEmail, wf.Step)
	assert.Equal(t, model.UserStateNonActive, wf.Notice)

	// 重试前用户变为活跃，已记录的分类不变
	_, err = env.store.TouchUserActivity(ctx, "u1", model.ActivityDay(env.clock.Now()))
	require.NoError(t, err)
	env.clock.Advance(time.Hour)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{subjectWelcome, subjectNonActive}, env.mail.subjects())
}

func TestMissingUserClassifiedNonActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.engine()
	_, err := eng.Start(ctx, "ghost", "ghost@example.com", "Ghost")
	require.NoError(t, err)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)

	env.clock.Advance(3*day + time.Second)
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{subjectWelcome, subjectNonActive}, env.mail.subjects())
}

func TestCancelStopsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eng := env.engine()
	_, err := eng.Start(ctx, "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)

	ok, err := eng.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eng.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.mail.subjects())
	assert.Equal(t, model.WorkflowStatusCancelled, env.workflow(t, "u1").Status)
}

func TestConcurrentEnginesSendOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := env.engine().Start(ctx, id, id+"@example.com", "Reader "+id)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine().RunOnce(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, env.mail.subjects(), 3)
	for _, id := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, model.StepCheckState, env.workflow(t, id).Step)
	}
}

func TestRunProcessesKickedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	eng := env.engine()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	_, err := eng.Start(context.Background(), "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.mail.subjects()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunWakesFromRedis(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	rs, err := redisstore.NewStoreFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	worker := env.engine(WithWaker(rs))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// 另一个进程登记工作流，只能通过 Redis 唤醒本进程
	producer := env.engine(WithWaker(rs))
	_, err = producer.Start(context.Background(), "u1", "u1@example.com", "Reader u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.mail.subjects()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBackoffCapped(t *testing.T) {
	eng := NewEngine(nil, nil, testLifecycle, WithLogger(logging.Discard()))
	for attempt := 1; attempt <= 20; attempt++ {
		d := eng.backoff(attempt)
		assert.GreaterOrEqual(t, d, testLifecycle.RetryBase/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, testLifecycle.RetryMax, "attempt %d", attempt)
	}
	assert.GreaterOrEqual(t, eng.backoff(20), testLifecycle.RetryMax/2)
}
