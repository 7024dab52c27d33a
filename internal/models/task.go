package models

import (
	"encoding/json"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 待执行
	TaskStatusRunning   TaskStatus = "running"   // 执行中
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
)

// TaskStats 任务统计
type TaskStats struct {
	CapturedPages int     `json:"captured_pages"` // 成功采集的页面数
	FailedPages   int     `json:"failed_pages"`   // 采集失败的页面数
	DeepestLevel  int     `json:"deepest_level"`  // 实际到达的最大深度
	ScreenshotKB  int64   `json:"screenshot_kb"`  // 截图总大小(KB)
	Duration      float64 `json:"duration"`       // 总耗时(秒)
}

// CrawlTask 一次爬取任务(用于持久化和批量调度)
type CrawlTask struct {
	ID          string     `json:"id"`
	StartURL    string     `json:"start_url"`
	Domain      string     `json:"domain"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Config CrawlConfig `json:"config"`
	Status TaskStatus  `json:"status"`
	Stats  TaskStats   `json:"stats"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlTask 创建新任务, 配置无效时返回错误
func NewCrawlTask(config CrawlConfig) (*CrawlTask, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &CrawlTask{
		ID:        newTaskID(),
		StartURL:  config.StartURL,
		Domain:    config.BaseDomain(),
		CreatedAt: time.Now(),
		Config:    config,
		Status:    TaskStatusPending,
	}, nil
}

// MarkRunning 标记任务开始执行
func (t *CrawlTask) MarkRunning() {
	now := time.Now()
	t.StartedAt = &now
	t.Status = TaskStatusRunning
}

// MarkCompleted 标记任务完成并记录统计
func (t *CrawlTask) MarkCompleted(stats TaskStats) {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = TaskStatusCompleted
	t.Stats = stats
}

// MarkFailed 标记任务失败
func (t *CrawlTask) MarkFailed(err error) {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = TaskStatusFailed
	if err != nil {
		t.ErrorMessage = err.Error()
	}
}

// ToJSON 序列化为JSON
func (t *CrawlTask) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// FromJSON 从JSON反序列化
func (t *CrawlTask) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
