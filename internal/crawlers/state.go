package crawlers

import (
	"context"
	"net/url"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/rs/zerolog/log"
)

// CrawlState 单次爬取的可变状态, 只在一次Crawl调用内存在
// 访问顺序严格串行, 不需要加锁
type CrawlState struct {
	visited    map[string]bool
	captured   []models.PageSnapshot
	baseDomain string
	maxPages   int
	maxDepth   int
}

func newCrawlState(cfg models.CrawlConfig) *CrawlState {
	return &CrawlState{
		visited:    make(map[string]bool),
		captured:   make([]models.PageSnapshot, 0, cfg.MaxPages),
		baseDomain: cfg.BaseDomain(),
		maxPages:   cfg.MaxPages,
		maxDepth:   cfg.MaxDepth,
	}
}

// BudgetExhausted 已采集页面数达到上限
func (s *CrawlState) BudgetExhausted() bool {
	return len(s.captured) >= s.maxPages
}

// IsVisited URL是否已派发过
func (s *CrawlState) IsVisited(u string) bool {
	return s.visited[u]
}

// admit 准入检查, 通过时在任何I/O之前标记为已访问
// 顺序: 预算 -> 取消 -> 深度 -> 已访问 -> 域名
func (s *CrawlState) admit(ctx context.Context, pageURL string, depth int) bool {
	if s.BudgetExhausted() {
		return false
	}
	if ctx.Err() != nil {
		log.Debug().Str("url", pageURL).Msg("上下文已取消,停止扩展")
		return false
	}
	if depth > s.maxDepth {
		return false
	}
	if s.visited[pageURL] {
		return false
	}

	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host != s.baseDomain {
		log.Debug().Str("url", pageURL).Str("base", s.baseDomain).Msg("跨域URL已拒绝")
		return false
	}

	s.visited[pageURL] = true
	return true
}

func (s *CrawlState) record(page models.PageSnapshot) {
	s.captured = append(s.captured, page)
}

// Pages 按采集完成顺序返回快照
func (s *CrawlState) Pages() []models.PageSnapshot {
	return s.captured
}
