package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/crawlers"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/storage"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
)

// TaskRunner 主爬取协调器
// 执行流程:
//  1. 标记任务开始
//  2. 运行有界爬取, 同时收集报告
//  3. 更新任务状态与统计
//  4. 通过存储保存结果 (失败任务也会保存记录)
type TaskRunner struct {
	renderer crawlers.Renderer
	options  crawlers.CrawlerOptions
	store    storage.ResultStore
}

// TaskOutcome 一次任务的产出
type TaskOutcome struct {
	Task   *models.CrawlTask
	Result *models.CrawlResult
	Report *models.CrawlReport
}

// NewTaskRunner 创建任务执行器, store为nil时不保存
func NewTaskRunner(renderer crawlers.Renderer, options crawlers.CrawlerOptions, store storage.ResultStore) *TaskRunner {
	if store == nil {
		store = storage.NopStore{}
	}
	return &TaskRunner{
		renderer: renderer,
		options:  options,
		store:    store,
	}
}

// Run 执行爬取任务
// 返回的TaskOutcome总是非nil, 爬取或保存失败时同时返回错误
// ctx取消后仍会保存已采集的页面
func (r *TaskRunner) Run(ctx context.Context, task *models.CrawlTask, observers ...crawlers.Observer) (*TaskOutcome, error) {
	utils.Infof("🚀 开始爬取任务 [%s]", task.ID)
	utils.Infof("目标URL: %s", task.StartURL)
	utils.Debugf("域名: %s, 最大页面数: %d, 最大深度: %d", task.Domain, task.Config.MaxPages, task.Config.MaxDepth)

	collector := NewReportCollector(task)
	opts := r.options
	all := crawlers.Observers{collector}
	if opts.Observer != nil {
		all = append(all, opts.Observer)
	}
	opts.Observer = append(all, observers...)

	task.MarkRunning()
	result, crawlErr := crawlers.NewCrawler(r.renderer, opts).Crawl(ctx, task.Config)
	report := collector.Report()

	if crawlErr != nil {
		task.MarkFailed(crawlErr)
		task.Stats = report.Stats
		result = models.NewCrawlResult(task.StartURL, nil)
	} else {
		task.MarkCompleted(report.Stats)
	}

	outcome := &TaskOutcome{Task: task, Result: result, Report: report}

	if err := r.store.Save(context.WithoutCancel(ctx), task, result, report); err != nil {
		utils.Errorf("保存结果失败 [%s]: %v", task.ID, err)
		if crawlErr == nil {
			return outcome, fmt.Errorf("保存结果失败: %w", err)
		}
	}

	if crawlErr != nil {
		return outcome, crawlErr
	}

	utils.Infof("✅ 爬取任务完成 [%s]: 采集 %d 页, 失败 %d 页, 耗时 %s",
		task.ID, task.Stats.CapturedPages, task.Stats.FailedPages,
		time.Duration(task.Stats.Duration*float64(time.Second)).Round(time.Millisecond))
	return outcome, nil
}
