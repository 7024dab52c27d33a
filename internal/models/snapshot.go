package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// CrawlConfig 单次站点爬取的输入配置(创建后不可变)
type CrawlConfig struct {
	StartURL string `json:"start_url" mapstructure:"start_url"` // 入口URL, 必须为http/https
	MaxPages int    `json:"max_pages" mapstructure:"max_pages"` // 最多采集的页面数(含)
	MaxDepth int    `json:"max_depth" mapstructure:"max_depth"` // 距入口页的最大跳数(含)
}

// Validate 验证配置
// MaxPages与MaxDepth允许为0: 0页表示直接返回空结果, 深度0表示只采集入口页
func (c CrawlConfig) Validate() error {
	if err := ValidateURL(c.StartURL); err != nil {
		return &ValidationError{Field: "start_url", Value: c.StartURL, Reason: err.Error()}
	}
	if c.MaxPages < 0 {
		return &ValidationError{
			Field:      "max_pages",
			Value:      fmt.Sprint(c.MaxPages),
			Reason:     "页面预算不能为负数",
			Suggestion: "使用0或正整数",
		}
	}
	if c.MaxDepth < 0 {
		return &ValidationError{
			Field:      "max_depth",
			Value:      fmt.Sprint(c.MaxDepth),
			Reason:     "爬取深度不能为负数",
			Suggestion: "使用0或正整数",
		}
	}
	return nil
}

// BaseDomain 返回入口URL的主机部分(含端口)
func (c CrawlConfig) BaseDomain() string {
	parsed, err := url.Parse(c.StartURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// PageSnapshot 单个页面的采集快照
type PageSnapshot struct {
	URL        string    `json:"url"`         // 规范化后的绝对URL
	Title      string    `json:"title"`       // 页面标题, 可能为空
	Markup     string    `json:"markup"`      // 渲染后的完整文档
	Screenshot []byte    `json:"screenshot"`  // 整页截图(JPEG)
	CapturedAt time.Time `json:"captured_at"` // 采集时间
	Depth      int       `json:"depth"`       // 距入口页的跳数, 入口页为0
}

// CrawlResult 一次爬取的输出, 由分析器和存储层消费
type CrawlResult struct {
	Pages      []PageSnapshot `json:"pages"`       // 按采集完成顺序排列
	StartURL   string         `json:"start_url"`
	TotalPages int            `json:"total_pages"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewCrawlResult 根据采集到的页面构造结果, TotalPages始终等于len(pages)
func NewCrawlResult(startURL string, pages []PageSnapshot) *CrawlResult {
	if pages == nil {
		pages = []PageSnapshot{}
	}
	return &CrawlResult{
		Pages:      pages,
		StartURL:   startURL,
		TotalPages: len(pages),
		Timestamp:  time.Now(),
	}
}

// URLs 按顺序返回所有页面URL
func (r *CrawlResult) URLs() []string {
	urls := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		urls = append(urls, p.URL)
	}
	return urls
}

// ToJSON 序列化为JSON
func (r *CrawlResult) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlResult) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
