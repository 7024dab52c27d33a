package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/crawlers"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"golang.org/x/sync/errgroup"
)

// ErrBatchAborted 批量爬取因任务失败而中止
var ErrBatchAborted = errors.New("批量爬取已中止")

// BatchOptions 批量爬取选项
type BatchOptions struct {
	Concurrency     int           // 同时运行的爬取数
	Delay           time.Duration // 相邻两次派发之间的间隔
	ContinueOnError bool          // false时首个失败会取消其余任务

	// OnTaskDone 每个任务结束后调用(串行化)
	OnTaskDone func(BatchResult)
}

// BatchCrawler 批量爬取器, 每个入口URL是一次独立的爬取
type BatchCrawler struct {
	runner  *TaskRunner
	opts    BatchOptions
	monitor *crawlers.ResourceMonitor
}

// BatchResult 批量爬取中单个URL的结果
type BatchResult struct {
	URL         string
	Task        *models.CrawlTask
	Success     bool
	Skipped     bool
	Error       error
	Stats       models.TaskStats
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量爬取摘要
type BatchSummary struct {
	TotalURLs         int
	SuccessCount      int
	FailCount         int
	SkippedCount      int
	TotalPages        int
	TotalScreenshotKB int64
	TotalDuration     float64
	Results           []BatchResult
}

// Tasks 返回已执行的任务, 按输入顺序
func (s *BatchSummary) Tasks() []*models.CrawlTask {
	tasks := make([]*models.CrawlTask, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Task != nil {
			tasks = append(tasks, r.Task)
		}
	}
	return tasks
}

// NewBatchCrawler 创建批量爬取器, monitor可以为nil
func NewBatchCrawler(runner *TaskRunner, opts BatchOptions, monitor *crawlers.ResourceMonitor) *BatchCrawler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &BatchCrawler{
		runner:  runner,
		opts:    opts,
		monitor: monitor,
	}
}

// concurrencyLimit 配置的并发数与系统资源允许的会话数取较小值
func (bc *BatchCrawler) concurrencyLimit() int {
	limit := bc.opts.Concurrency
	if bc.monitor != nil {
		if sessions := bc.monitor.CalculateMaxSessions(); sessions < limit {
			utils.Infof("系统资源限制并发数: %d -> %d", limit, sessions)
			limit = sessions
		}
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// CrawlBatch 批量爬取URL列表, base提供页面预算和深度
// 返回的摘要中结果顺序与urls一致
func (bc *BatchCrawler) CrawlBatch(ctx context.Context, urls []string, base models.CrawlConfig) (*BatchSummary, error) {
	limit := bc.concurrencyLimit()
	utils.Infof("🚀 开始批量爬取: %d个URL (并发数: %d)", len(urls), limit)

	startTime := time.Now()
	results := make([]BatchResult, len(urls))
	for i, u := range urls {
		results[i] = BatchResult{URL: u, Skipped: true}
	}

	var doneMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

dispatch:
	for i, targetURL := range urls {
		if i > 0 && bc.opts.Delay > 0 {
			utils.Debugf("等待 %s 后派发下一个URL...", bc.opts.Delay)
			select {
			case <-gctx.Done():
				break dispatch
			case <-time.After(bc.opts.Delay):
			}
		}
		if gctx.Err() != nil {
			break
		}
		if bc.monitor != nil {
			if ok, reason := bc.monitor.CheckResourceAvailability(); !ok {
				utils.Warnf("⚠️  系统资源紧张: %s", reason)
			}
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			utils.Infof("==================== [%d/%d] %s ====================", i+1, len(urls), targetURL)
			cfg := base
			cfg.StartURL = targetURL
			res := bc.crawlSingleURL(gctx, cfg)
			results[i] = res

			if bc.opts.OnTaskDone != nil {
				doneMu.Lock()
				bc.opts.OnTaskDone(res)
				doneMu.Unlock()
			}

			if !res.Success {
				utils.Errorf("❌ 爬取失败 [%s]: %v", targetURL, res.Error)
				if !bc.opts.ContinueOnError {
					return fmt.Errorf("%w: %s: %w", ErrBatchAborted, targetURL, res.Error)
				}
			}
			return nil
		})
	}

	waitErr := g.Wait()

	summary := &BatchSummary{
		TotalURLs:     len(urls),
		Results:       results,
		TotalDuration: time.Since(startTime).Seconds(),
	}
	for _, r := range results {
		switch {
		case r.Skipped:
			summary.SkippedCount++
		case r.Success:
			summary.SuccessCount++
			summary.TotalPages += r.Stats.CapturedPages
			summary.TotalScreenshotKB += r.Stats.ScreenshotKB
		default:
			summary.FailCount++
		}
	}

	bc.printSummary(summary)

	if waitErr != nil {
		utils.Warn("批量爬取中止 (continue_on_error=false)")
		return summary, waitErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// crawlSingleURL 爬取单个URL
func (bc *BatchCrawler) crawlSingleURL(ctx context.Context, cfg models.CrawlConfig) BatchResult {
	result := BatchResult{
		URL:         cfg.StartURL,
		ProcessedAt: time.Now(),
	}
	startTime := time.Now()

	task, err := models.NewCrawlTask(cfg)
	if err != nil {
		result.Error = fmt.Errorf("创建任务失败: %w", err)
		result.Duration = time.Since(startTime).Seconds()
		return result
	}
	result.Task = task

	if _, err := bc.runner.Run(ctx, task); err != nil {
		result.Error = err
		result.Stats = task.Stats
		result.Duration = time.Since(startTime).Seconds()
		return result
	}

	result.Success = true
	result.Stats = task.Stats
	result.Duration = time.Since(startTime).Seconds()
	return result
}

// printSummary 打印批量爬取摘要
func (bc *BatchCrawler) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量爬取摘要")
	utils.Info("==================================================")
	utils.Infof("总URL数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	if summary.SkippedCount > 0 {
		utils.Infof("⏭️  未执行: %d", summary.SkippedCount)
	}
	utils.Infof("📸 总页面数: %d", summary.TotalPages)
	utils.Infof("📦 截图总大小: %s", utils.FormatBytes(summary.TotalScreenshotKB*1024))
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("失败的URL:")
		for _, result := range summary.Results {
			if !result.Success && !result.Skipped {
				utils.Warnf("  - %s: %v", result.URL, result.Error)
			}
		}
	}
}
