package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/core"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
)

// 命令行参数取值范围
const (
	maxDepthLimit  = 10
	maxPagesLimit  = 1000
	maxNavTimeout  = 5 * time.Minute
	maxPacingDelay = time.Minute
)

// ValidateFlags 验证命令行标志
func ValidateFlags(targetURL, urlFile string, crawl core.CrawlSettings) error {
	if targetURL != "" && urlFile != "" {
		return fmt.Errorf("--url 与 --url-file 不能同时使用")
	}

	if targetURL != "" {
		if err := models.ValidateURL(targetURL); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	if crawl.MaxPages < 0 || crawl.MaxPages > maxPagesLimit {
		return fmt.Errorf("最大页面数必须在0-%d之间,当前值: %d", maxPagesLimit, crawl.MaxPages)
	}

	if crawl.MaxDepth < 0 || crawl.MaxDepth > maxDepthLimit {
		return fmt.Errorf("爬取深度必须在0-%d之间,当前值: %d", maxDepthLimit, crawl.MaxDepth)
	}

	if crawl.NavTimeout <= 0 || crawl.NavTimeout > maxNavTimeout {
		return fmt.Errorf("导航超时必须在0-%s之间,当前值: %s", maxNavTimeout, crawl.NavTimeout)
	}

	if crawl.PacingDelay < 0 || crawl.PacingDelay > maxPacingDelay {
		return fmt.Errorf("访问间隔必须在0-%s之间,当前值: %s", maxPacingDelay, crawl.PacingDelay)
	}

	return nil
}

// NormalizeURL 补全协议, 没有协议时默认使用https
func NormalizeURL(urlStr string) (string, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		urlStr = "https://" + urlStr
		parsed, err = url.Parse(urlStr)
		if err != nil {
			return "", err
		}
	}

	return parsed.String(), nil
}

// NormalizeURLs 逐条补全协议, 无法解析的条目原样保留, 由任务创建时报告错误
func NormalizeURLs(urls []string) []string {
	normalized := make([]string, len(urls))
	for i, u := range urls {
		if n, err := NormalizeURL(u); err == nil {
			normalized[i] = n
		} else {
			normalized[i] = u
		}
	}
	return normalized
}
