// Package crawlers 提供面向可用性评估的有界站点爬取功能
//
// # 概述
//
// 给定入口URL、页面预算和深度上限, Crawler按深度优先顺序访问同一主机下的页面,
// 每个页面至多访问一次, 为每个页面采集渲染后的HTML和整页截图。
// 单个页面失败只影响该页面, 只有无法获取渲染会话时整次爬取才会失败。
//
// # 核心组件
//
// ## Crawler
//
// 每次Crawl调用创建独立的CrawlState(已访问集合、已采集列表、基准域名),
// 并独占一个渲染会话。页面访问严格串行, 采集顺序即深度优先的先序顺序。
//
//	crawler := NewCrawler(renderer, DefaultCrawlerOptions())
//	result, err := crawler.Crawl(ctx, models.CrawlConfig{
//	    StartURL: "https://example.com/",
//	    MaxPages: 10,
//	    MaxDepth: 2,
//	})
//
// 准入检查顺序: 预算耗尽 -> ctx已取消 -> 超出深度 -> 已访问 -> 跨域, 通过后在任何I/O之前标记为已访问。
//
// ## Renderer / Session / Page
//
// 渲染能力的抽象。RodRenderer基于go-rod实现:
// 共享一个浏览器进程, 每个会话使用独立的无痕上下文, 视口默认1280x800,
// User-Agent默认 UX-Evaluation-Agent/1.0, 截图为质量80的整页JPEG。
//
//	renderer := NewRodRenderer(DefaultRodRendererConfig())
//	defer renderer.Close()
//
// ## LinkFilter
//
// 以入口URL为基准解析相对链接, 过滤掉非http/https、跨主机、含片段(#)以及已访问的链接,
// 保持发现顺序。
//
// ## ResourceMonitor
//
// 基于gopsutil采样可用内存和CPU负载, CalculateMaxSessions给出批量爬取时
// 可以同时运行的会话数上限。
//
// # 错误分类
//
//   - CrawlError: 致命, 包装ErrRendererUnavailable
//   - PageError: 页面级, 带阶段(open/navigate/wait_idle/screenshot/title/content/extract_links)
//   - NavigationError: 渲染器返回的导航失败或超时
//
// 链接提取失败时页面快照保留, 只是不再向下扩展。
package crawlers
