package core

import (
	"errors"
	"sync"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/crawlers"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
)

// ReportCollector 通过观察者事件汇总一次爬取的报告
type ReportCollector struct {
	mu sync.Mutex

	task      *models.CrawlTask
	startTime time.Time

	pages        []models.PageInfo
	failed       []models.FailedPageInfo
	deepest      int
	screenshotSz int64
}

// NewReportCollector 创建报告收集器
func NewReportCollector(task *models.CrawlTask) *ReportCollector {
	return &ReportCollector{
		task:      task,
		startTime: time.Now(),
		pages:     []models.PageInfo{},
		failed:    []models.FailedPageInfo{},
	}
}

// OnPageCaptured 实现 crawlers.Observer
func (rc *ReportCollector) OnPageCaptured(page models.PageSnapshot) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.pages = append(rc.pages, models.NewPageInfo(len(rc.pages)+1, page))
	rc.screenshotSz += int64(len(page.Screenshot))
	if page.Depth > rc.deepest {
		rc.deepest = page.Depth
	}
}

// OnPageFailed 实现 crawlers.Observer
func (rc *ReportCollector) OnPageFailed(url string, depth int, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	info := models.FailedPageInfo{URL: url, Depth: depth}
	var pageErr *crawlers.PageError
	if errors.As(err, &pageErr) {
		info.Stage = string(pageErr.Stage)
		info.ErrorMsg = pageErr.Cause.Error()
	} else if err != nil {
		info.ErrorMsg = err.Error()
	}
	rc.failed = append(rc.failed, info)
}

// Stats 当前统计
func (rc *ReportCollector) Stats() models.TaskStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.statsLocked(time.Now())
}

func (rc *ReportCollector) statsLocked(now time.Time) models.TaskStats {
	return models.TaskStats{
		CapturedPages: len(rc.pages),
		FailedPages:   len(rc.failed),
		DeepestLevel:  rc.deepest,
		ScreenshotKB:  rc.screenshotSz / 1024,
		Duration:      now.Sub(rc.startTime).Seconds(),
	}
}

// Report 生成报告快照
func (rc *ReportCollector) Report() *models.CrawlReport {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := time.Now()
	pages := make([]models.PageInfo, len(rc.pages))
	copy(pages, rc.pages)
	failed := make([]models.FailedPageInfo, len(rc.failed))
	copy(failed, rc.failed)

	return &models.CrawlReport{
		TaskID:      rc.task.ID,
		StartURL:    rc.task.StartURL,
		Domain:      rc.task.Domain,
		StartTime:   rc.startTime,
		EndTime:     now,
		Stats:       rc.statsLocked(now),
		Pages:       pages,
		FailedPages: failed,
		Config:      rc.task.Config,
	}
}
