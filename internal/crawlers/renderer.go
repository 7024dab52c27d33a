package crawlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
)

// Renderer 浏览器渲染能力
// 每次爬取独占一个Session, 视口和User-Agent在Session内固定
type Renderer interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session 渲染会话(对应一个隔离的浏览器上下文)
type Session interface {
	OpenPage(ctx context.Context) (Page, error)
	Close() error
}

// Page 单个页面句柄, 用完必须Close
type Page interface {
	// Navigate 导航到url, 超过timeout返回*NavigationError
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitIdle(ctx context.Context) error
	// Screenshot 整页JPEG截图
	Screenshot(ctx context.Context) ([]byte, error)
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	// ExtractLinks 返回页面中所有a[href]解析后的绝对地址, 保持文档顺序
	ExtractLinks(ctx context.Context) ([]string, error)
	Close() error
}

// Stage 页面采集阶段
type Stage string

const (
	StageOpen         Stage = "open"
	StageNavigate     Stage = "navigate"
	StageWaitIdle     Stage = "wait_idle"
	StageScreenshot   Stage = "screenshot"
	StageTitle        Stage = "title"
	StageContent      Stage = "content"
	StageExtractLinks Stage = "extract_links"
)

var (
	// ErrRendererUnavailable 无法获取渲染会话, 整次爬取失败
	ErrRendererUnavailable = errors.New("渲染器不可用")
	// ErrRendererPanic 渲染器调用发生panic
	ErrRendererPanic = errors.New("渲染器操作panic")
)

// CrawlError 致命错误: 爬取无法开始
type CrawlError struct {
	StartURL string
	Cause    error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("爬取失败 [%s]: %v", e.StartURL, e.Cause)
}

func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// PageError 页面级错误, 只影响单个页面
type PageError struct {
	URL   string
	Depth int
	Stage Stage
	Cause error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("页面采集失败 [%s] (深度=%d, 阶段=%s): %v", e.URL, e.Depth, e.Stage, e.Cause)
}

func (e *PageError) Unwrap() error {
	return e.Cause
}

// NavigationError 导航失败或超时
type NavigationError struct {
	URL     string
	Timeout bool
	Cause   error
}

func (e *NavigationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("导航超时 [%s]: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("导航失败 [%s]: %v", e.URL, e.Cause)
}

func (e *NavigationError) Unwrap() error {
	return e.Cause
}

// Observer 页面事件观察者 (进度条、报告收集)
// 回调在爬取goroutine中同步执行
type Observer interface {
	OnPageCaptured(page models.PageSnapshot)
	OnPageFailed(url string, depth int, err error)
}

// Observers 把事件分发给多个观察者
type Observers []Observer

func (o Observers) OnPageCaptured(page models.PageSnapshot) {
	for _, obs := range o {
		if obs != nil {
			obs.OnPageCaptured(page)
		}
	}
}

func (o Observers) OnPageFailed(url string, depth int, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.OnPageFailed(url, depth, err)
		}
	}
}
