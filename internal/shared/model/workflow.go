package model

import "time"

// WorkflowStep 生命周期工作流的下一步
type WorkflowStep string

const (
	StepSendWelcome    WorkflowStep = "send_welcome"
	StepCheckState     WorkflowStep = "check_state"
	StepSendStateEmail WorkflowStep = "send_state_email"
)

// WorkflowStatus 工作流实例状态
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// UserState 用户活跃度分类
type UserState string

const (
	UserStateActive    UserState = "active"
	UserStateNonActive UserState = "non-active"
)

// LifecycleWorkflow 每个用户一条的持久化检查点
//
// Step + NextRunAt 即工作流位置；进程重启后从这里继续。
type LifecycleWorkflow struct {
	UserID    string         `json:"user_id" db:"user_id"`
	Email     string         `json:"email" db:"email"`
	FullName  string         `json:"full_name" db:"full_name"`
	Step      WorkflowStep   `json:"step" db:"step"`
	Notice    UserState      `json:"notice,omitempty" db:"notice"` // check_state 的分类结果
	Status    WorkflowStatus `json:"status" db:"status"`
	NextRunAt time.Time      `json:"next_run_at" db:"next_run_at"`
	Attempts  int            `json:"attempts" db:"attempts"`
	Cycles    int            `json:"cycles" db:"cycles"`
	LastError string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// IsRunning 是否仍在调度中
func (w *LifecycleWorkflow) IsRunning() bool {
	return w.Status == WorkflowStatusRunning
}
