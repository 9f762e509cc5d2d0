package repository

import (
	"context"
	"time"

	"bookwise/internal/shared/model"
)

const workflowColumns = `user_id, email, full_name, step, notice, status, next_run_at,
	attempts, cycles, last_error, created_at, updated_at`

func scanWorkflow(row rowScanner) (*model.LifecycleWorkflow, error) {
	wf := &model.LifecycleWorkflow{}
	var nextRun int64
	if err := row.Scan(&wf.UserID, &wf.Email, &wf.FullName, &wf.Step, &wf.Notice, &wf.Status, &nextRun,
		&wf.Attempts, &wf.Cycles, &wf.LastError, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.NextRunAt = time.Unix(nextRun, 0).UTC()
	return wf, nil
}

// CreateWorkflowIfAbsent 为用户登记工作流，已存在时保持原检查点
func (s *Store) CreateWorkflowIfAbsent(ctx context.Context, wf *model.LifecycleWorkflow) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO lifecycle_workflows (`+workflowColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id) DO NOTHING`),
		wf.UserID, wf.Email, wf.FullName, wf.Step, wf.Notice, wf.Status, wf.NextRunAt.Unix(),
		wf.Attempts, wf.Cycles, wf.LastError, wf.CreatedAt.UTC(), wf.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, s.translate(err)
	}
	return affected(res)
}

// GetWorkflow 获取用户的工作流检查点
func (s *Store) GetWorkflow(ctx context.Context, userID string) (*model.LifecycleWorkflow, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+workflowColumns+` FROM lifecycle_workflows WHERE user_id = $1`), userID))
	return wf, s.translate(err)
}

// ListDueWorkflows 列出到期的运行中工作流，最早到期的在前
func (s *Store) ListDueWorkflows(ctx context.Context, now time.Time, limit int) ([]*model.LifecycleWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+workflowColumns+` FROM lifecycle_workflows
		 WHERE status = $1 AND next_run_at <= $2
		 ORDER BY next_run_at LIMIT $3`),
		model.WorkflowStatusRunning, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*model.LifecycleWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, wf)
	}
	return due, rows.Err()
}

// ClaimWorkflow 租用工作流的当前一步
//
// next_run_at 兼作版本号：只有看到相同 next_run_at 的执行者能够租用成功，
// 租约到期前其他执行者不会再列出该记录。
func (s *Store) ClaimWorkflow(ctx context.Context, userID string, expected, leaseUntil time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE lifecycle_workflows SET next_run_at = $1, updated_at = $2
		 WHERE user_id = $3 AND status = $4 AND next_run_at = $5`),
		leaseUntil.Unix(), time.Now().UTC(), userID, model.WorkflowStatusRunning, expected.Unix())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// SaveWorkflow 写入检查点（步骤、下次运行时间、重试计数）
func (s *Store) SaveWorkflow(ctx context.Context, wf *model.LifecycleWorkflow, lease time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE lifecycle_workflows SET step = $1, notice = $2, next_run_at = $3, attempts = $4,
		 cycles = $5, last_error = $6, updated_at = $7
		 WHERE user_id = $8 AND status = $9 AND next_run_at = $10`),
		wf.Step, wf.Notice, wf.NextRunAt.Unix(), wf.Attempts, wf.Cycles, wf.LastError,
		time.Now().UTC(), wf.UserID, model.WorkflowStatusRunning, lease.Unix())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CancelWorkflow 取消用户的工作流，返回是否存在运行中的实例
func (s *Store) CancelWorkflow(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE lifecycle_workflows SET status = $1, updated_at = $2
		 WHERE user_id = $3 AND status = $4`),
		model.WorkflowStatusCancelled, time.Now().UTC(), userID, model.WorkflowStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res)
}
