package models

import (
	"encoding/json"
	"time"
)

// CrawlReport 爬取报告(不含截图和页面源码, 只记录元数据)
type CrawlReport struct {
	TaskID   string `json:"task_id"`
	StartURL string `json:"start_url"`
	Domain   string `json:"domain"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Stats TaskStats `json:"stats"`

	Pages       []PageInfo       `json:"pages"`
	FailedPages []FailedPageInfo `json:"failed_pages"`

	Config CrawlConfig `json:"config"`
}

// PageInfo 页面元数据, 同时作为pages.csv的一行
type PageInfo struct {
	Index          int       `json:"index" csv:"index"`
	URL            string    `json:"url" csv:"url"`
	Title          string    `json:"title" csv:"title"`
	Depth          int       `json:"depth" csv:"depth"`
	CapturedAt     time.Time `json:"captured_at" csv:"captured_at"`
	MarkupBytes    int       `json:"markup_bytes" csv:"markup_bytes"`
	ScreenshotPath string    `json:"screenshot_path,omitempty" csv:"screenshot_path"`
	MarkupPath     string    `json:"markup_path,omitempty" csv:"markup_path"`
}

// FailedPageInfo 采集失败的页面
type FailedPageInfo struct {
	URL      string `json:"url"`
	Depth    int    `json:"depth"`
	Stage    string `json:"stage"` // navigate, wait_idle, screenshot 等
	ErrorMsg string `json:"error_msg"`
}

// NewPageInfo 从快照提取元数据
func NewPageInfo(index int, p PageSnapshot) PageInfo {
	return PageInfo{
		Index:       index,
		URL:         p.URL,
		Title:       p.Title,
		Depth:       p.Depth,
		CapturedAt:  p.CapturedAt,
		MarkupBytes: len(p.Markup),
	}
}

// Duration 报告覆盖的时长
func (r *CrawlReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
