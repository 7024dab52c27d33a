package crawlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
)

const (
	// DefaultNavigationTimeout 单次导航超时
	DefaultNavigationTimeout = 30 * time.Second
	// DefaultPacingDelay 访问子页面前的等待, 避免压垮目标站点
	DefaultPacingDelay = 1 * time.Second
)

// CrawlerOptions 爬虫选项
type CrawlerOptions struct {
	NavigationTimeout time.Duration // 0 表示使用默认值
	PacingDelay       time.Duration // 0 表示不等待
	Observer          Observer
}

// DefaultCrawlerOptions 默认选项
func DefaultCrawlerOptions() CrawlerOptions {
	return CrawlerOptions{
		NavigationTimeout: DefaultNavigationTimeout,
		PacingDelay:       DefaultPacingDelay,
	}
}

// Crawler 有界站点爬虫
// 从入口URL开始按深度优先访问同域页面, 每个页面最多访问一次
type Crawler struct {
	renderer Renderer
	opts     CrawlerOptions
}

// NewCrawler 创建爬虫, Crawler本身无状态, 可被多个goroutine并发使用
func NewCrawler(renderer Renderer, opts CrawlerOptions) *Crawler {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.PacingDelay < 0 {
		opts.PacingDelay = 0
	}
	return &Crawler{renderer: renderer, opts: opts}
}

// Crawl 执行一次有界爬取
// 仅在配置无效或无法获取渲染会话时返回错误, 页面级失败不会中断爬取
// ctx取消等同于预算耗尽: 返回已采集的页面且不返回错误
func (c *Crawler) Crawl(ctx context.Context, cfg models.CrawlConfig) (*models.CrawlResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("爬取配置无效: %w", err)
	}

	// 入口URL与链接使用同一规范形式, 避免首页重复采集
	startURL, err := CanonicalURL(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("解析入口URL失败: %w", err)
	}
	inputURL := cfg.StartURL
	cfg.StartURL = startURL

	filter, err := NewLinkFilter(cfg.StartURL)
	if err != nil {
		return nil, err
	}

	state := newCrawlState(cfg)

	if cfg.MaxPages == 0 {
		utils.Debugf("页面预算为0,跳过爬取: %s", cfg.StartURL)
		return models.NewCrawlResult(inputURL, nil), nil
	}

	utils.Infof("🌐 开始爬取: %s (最大页面数=%d, 最大深度=%d)", cfg.StartURL, cfg.MaxPages, cfg.MaxDepth)
	startTime := time.Now()

	session, err := c.renderer.NewSession(ctx)
	if err != nil {
		utils.Errorf("获取渲染会话失败 [%s]: %v", cfg.StartURL, err)
		return nil, &CrawlError{
			StartURL: inputURL,
			Cause:    fmt.Errorf("%w: %w", ErrRendererUnavailable, err),
		}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			utils.Warnf("关闭渲染会话失败 [%s]: %v", cfg.StartURL, closeErr)
		}
	}()

	c.visit(ctx, session, state, filter, cfg.StartURL, 0)

	pages := state.Pages()
	utils.Infof("✅ 爬取完成: %s, 采集 %d 页, 耗时 %.2f秒", cfg.StartURL, len(pages), time.Since(startTime).Seconds())

	return models.NewCrawlResult(inputURL, pages), nil
}

// visit 访问单个页面并递归扩展其链接
func (c *Crawler) visit(ctx context.Context, session Session, state *CrawlState, filter *LinkFilter, pageURL string, depth int) {
	if !state.admit(ctx, pageURL, depth) {
		return
	}

	links, expand := c.capture(ctx, session, state, filter, pageURL, depth)
	if !expand {
		return
	}

	for _, link := range links {
		if state.BudgetExhausted() || ctx.Err() != nil {
			return
		}
		// 前面的兄弟子树可能已经访问过该链接
		if state.IsVisited(link) {
			continue
		}
		if !c.pace(ctx) {
			return
		}
		c.visit(ctx, session, state, filter, link, depth+1)
	}
}

// capture 采集单个页面, 返回待扩展的链接
// 页面句柄在返回前关闭, 所以子页面访问时不会占用它
func (c *Crawler) capture(ctx context.Context, session Session, state *CrawlState, filter *LinkFilter, pageURL string, depth int) (links []string, expand bool) {
	stage := StageOpen

	defer func() {
		if r := recover(); r != nil {
			c.recordFailure(pageURL, depth, stage, fmt.Errorf("%w: %v", ErrRendererPanic, r))
			links, expand = nil, false
		}
	}()

	utils.Debugf("访问页面: %s (深度: %d)", pageURL, depth)

	page, err := session.OpenPage(ctx)
	if err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			utils.Debugf("关闭页面失败 [%s]: %v", pageURL, closeErr)
		}
	}()

	stage = StageNavigate
	if err := page.Navigate(ctx, pageURL, c.opts.NavigationTimeout); err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}

	stage = StageWaitIdle
	if err := page.WaitIdle(ctx); err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}

	stage = StageScreenshot
	screenshot, err := page.Screenshot(ctx)
	if err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}

	stage = StageTitle
	title, err := page.Title(ctx)
	if err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}

	stage = StageContent
	markup, err := page.Content(ctx)
	if err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}

	snapshot := models.PageSnapshot{
		URL:        pageURL,
		Title:      title,
		Markup:     markup,
		Screenshot: screenshot,
		CapturedAt: time.Now(),
		Depth:      depth,
	}
	state.record(snapshot)
	utils.Infof("📸 已采集 [%d/%d] %s (深度: %d)", len(state.Pages()), state.maxPages, pageURL, depth)
	if c.opts.Observer != nil {
		c.opts.Observer.OnPageCaptured(snapshot)
	}

	if depth >= state.maxDepth {
		return nil, false
	}

	// 提取失败时快照保留, 只是不再扩展
	stage = StageExtractLinks
	rawLinks, err := page.ExtractLinks(ctx)
	if err != nil {
		c.recordFailure(pageURL, depth, stage, err)
		return nil, false
	}

	links = filter.Filter(rawLinks, state.IsVisited)
	utils.Debugf("从页面提取了 %d 个链接, 保留 %d 个: %s", len(rawLinks), len(links), pageURL)
	return links, true
}

// pace 子页面访问前等待, ctx取消时返回false
func (c *Crawler) pace(ctx context.Context) bool {
	if c.opts.PacingDelay <= 0 {
		return true
	}
	timer := time.NewTimer(c.opts.PacingDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// recordFailure 统一处理页面级失败
func (c *Crawler) recordFailure(pageURL string, depth int, stage Stage, cause error) {
	pageErr := &PageError{URL: pageURL, Depth: depth, Stage: stage, Cause: cause}

	var navErr *NavigationError
	if errors.As(cause, &navErr) && navErr.Timeout {
		utils.Warnf("⏱️  %v", pageErr)
	} else {
		utils.Warnf("%v", pageErr)
	}

	if c.opts.Observer != nil {
		c.opts.Observer.OnPageFailed(pageURL, depth, pageErr)
	}
}
