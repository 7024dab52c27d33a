package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/rodaine/table"
	"github.com/schollz/progressbar/v3"
)

// Reporter 终端进度显示, 作为爬虫观察者接收页面事件
type Reporter struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	captured int
	failed   int
}

// NewReporter 创建进度显示, max为页面预算
func NewReporter(max int, description string, out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{bar: NewProgressBar(max, description, out)}
}

// OnPageCaptured 页面采集成功
func (r *Reporter) OnPageCaptured(page models.PageSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.captured++
	r.bar.Describe(fmt.Sprintf("📸 [深度%d] %s", page.Depth, Truncate(page.URL, 50)))
	_ = r.bar.Add(1)
}

// OnPageFailed 页面采集失败 (不计入进度)
func (r *Reporter) OnPageFailed(url string, depth int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed++
	r.bar.Describe(fmt.Sprintf("⚠️  [深度%d] %s", depth, Truncate(url, 50)))
}

// Counts 返回成功与失败计数
func (r *Reporter) Counts() (captured, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captured, r.failed
}

// Finish 结束进度条
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.bar.Finish()
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string, out io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// PrintPageTable 打印单次爬取的页面表格与失败列表
func PrintPageTable(w io.Writer, report *models.CrawlReport) {
	tbl := table.New("#", "Depth", "URL", "Title", "Markup").WithWriter(w)
	for _, p := range report.Pages {
		tbl.AddRow(p.Index, p.Depth, Truncate(p.URL, 60), Truncate(p.Title, 40), FormatBytes(int64(p.MarkupBytes)))
	}
	tbl.Print()

	if len(report.FailedPages) > 0 {
		fmt.Fprintln(w)
		failed := table.New("Failed URL", "Depth", "Stage", "Error").WithWriter(w)
		for _, f := range report.FailedPages {
			failed.AddRow(Truncate(f.URL, 60), f.Depth, f.Stage, Truncate(f.ErrorMsg, 60))
		}
		failed.Print()
	}

	fmt.Fprintf(w, "\n✅ 采集 %d 页, 失败 %d 页, 最大深度 %d, 耗时 %s\n",
		report.Stats.CapturedPages,
		report.Stats.FailedPages,
		report.Stats.DeepestLevel,
		report.Duration().Round(time.Millisecond))
}

// PrintBatchSummary 打印批量任务汇总
func PrintBatchSummary(w io.Writer, tasks []*models.CrawlTask) {
	tbl := table.New("Start URL", "Status", "Pages", "Failed", "Duration", "Error").WithWriter(w)
	for _, t := range tasks {
		tbl.AddRow(
			Truncate(t.StartURL, 50),
			t.Status,
			t.Stats.CapturedPages,
			t.Stats.FailedPages,
			fmt.Sprintf("%.1fs", t.Stats.Duration),
			Truncate(t.ErrorMessage, 40),
		)
	}
	tbl.Print()
}
