package crawlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// LinkFilter 链接过滤与规范化
// 只保留与入口URL同主机的http/https链接, 含片段(#)的链接直接跳过
type LinkFilter struct {
	base       *url.URL
	targetHost string
}

// defaultPorts 协议默认端口, 规范化时去掉
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// normalizeURL 规范化为浏览器el.href的形式
// 协议和主机转小写, 去掉默认端口, 空路径补为"/"
func normalizeURL(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if port := n.Port(); port != "" && defaultPorts[n.Scheme] == port {
		n.Host = strings.TrimSuffix(n.Host, ":"+port)
	}
	if n.Path == "" && n.Opaque == "" && n.Host != "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return &n
}

// CanonicalURL 解析并规范化URL字符串
func CanonicalURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	return normalizeURL(parsed).String(), nil
}

// NewLinkFilter 以入口URL为基准创建过滤器
func NewLinkFilter(startURL string) (*LinkFilter, error) {
	parsed, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("解析入口URL失败: %w", err)
	}
	base := normalizeURL(parsed)
	return &LinkFilter{base: base, targetHost: base.Host}, nil
}

// ShouldFollowLink 判断单个链接是否应该跟随
// 返回规范化后的绝对URL, 被拒绝时返回原因
func (f *LinkFilter) ShouldFollowLink(rawLink string, isVisited func(string) bool) (string, bool, string) {
	parsed, err := url.Parse(strings.TrimSpace(rawLink))
	if err != nil {
		return "", false, "URL格式无效"
	}

	resolved := normalizeURL(f.base.ResolveReference(parsed))

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false, "不支持的协议"
	}

	if resolved.Host != f.targetHost {
		return "", false, "跨域链接已过滤"
	}

	if strings.Contains(rawLink, "#") {
		return "", false, "片段链接已跳过"
	}

	normalized := resolved.String()
	if isVisited != nil && isVisited(normalized) {
		return "", false, "URL已访问"
	}

	return normalized, true, ""
}

// Filter 过滤链接列表, 保持发现顺序
// 同一页面内的重复链接保留, 由派发时的准入检查去重
func (f *LinkFilter) Filter(rawLinks []string, isVisited func(string) bool) []string {
	links := make([]string, 0, len(rawLinks))
	for _, raw := range rawLinks {
		normalized, ok, reason := f.ShouldFollowLink(raw, isVisited)
		if !ok {
			log.Debug().Str("link", raw).Str("reason", reason).Msg("链接已过滤")
			continue
		}
		links = append(links, normalized)
	}
	return links
}
