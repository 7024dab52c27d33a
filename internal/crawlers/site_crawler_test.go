package crawlers

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
)

func newTestCrawler(site *scriptedSite, observer Observer) *Crawler {
	return NewCrawler(site, CrawlerOptions{Observer: observer})
}

func pageURLs(result *models.CrawlResult) []string {
	return result.URLs()
}

func assertURLs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("URL列表 = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("URL列表[%d] = %s, want %s (完整: %v)", i, got[i], want[i], got)
		}
	}
}

// exampleSite 一个包含外链、回链、片段链接和多层结构的站点
func exampleSite() *scriptedSite {
	return newScriptedSite(map[string]scriptedPage{
		"https://example.com/":         linksPage("首页", "/a", "/b", "/c", "https://other.com/x"),
		"https://example.com/a":        linksPage("A", "/", "/a/1", "/a/2#top", "mailto:ux@example.com"),
		"https://example.com/b":        linksPage("B", "/b/1", "http://example.com:8080/b", "/a"),
		"https://example.com/c":        linksPage("C", "/c/1"),
		"https://example.com/a/1":      linksPage("A1", "/a/1/deep"),
		"https://example.com/b/1":      linksPage("B1", "/"),
		"https://example.com/c/1":      linksPage("C1"),
		"https://example.com/a/1/deep": linksPage("Deep"),
		"https://other.com/x":          linksPage("外站"),
	})
}

func TestCrawl_BudgetCapsDiscoveryOrder(t *testing.T) {
	site := exampleSite()
	crawler := newTestCrawler(site, nil)

	result, err := crawler.Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 3,
		MaxDepth: 1,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	assertURLs(t, pageURLs(result), []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	})
	if result.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", result.TotalPages)
	}

	wantDepths := []int{0, 1, 1}
	for i, p := range result.Pages {
		if p.Depth != wantDepths[i] {
			t.Errorf("%s 深度 = %d, want %d", p.URL, p.Depth, wantDepths[i])
		}
		if p.Title == "" || p.Markup == "" || len(p.Screenshot) == 0 || p.CapturedAt.IsZero() {
			t.Errorf("%s 快照不完整: %+v", p.URL, p)
		}
	}

	for _, nav := range site.Navigations() {
		if u, _ := url.Parse(nav); u.Host != "example.com" {
			t.Errorf("访问了外部主机: %s", nav)
		}
	}
}

func TestCrawl_NavigationTimeoutIsolated(t *testing.T) {
	site := newScriptedSite(map[string]scriptedPage{
		"https://example.com/":  linksPage("首页", "/a", "/b", "/c"),
		"https://example.com/a": {Title: "A", NavTimeout: true, HTML: `<a href="/a/child">child</a>`},
		"https://example.com/b": linksPage("B"),
		"https://example.com/c": linksPage("C"),
	})
	observer := &recordingObserver{}
	crawler := newTestCrawler(site, observer)

	result, err := crawler.Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 10,
		MaxDepth: 1,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	assertURLs(t, pageURLs(result), []string{
		"https://example.com/",
		"https://example.com/b",
		"https://example.com/c",
	})

	if len(observer.failures) != 1 {
		t.Fatalf("失败事件数 = %d, want 1", len(observer.failures))
	}
	var pageErr *PageError
	if !errors.As(observer.failures[0], &pageErr) {
		t.Fatalf("期望PageError, 得到 %T", observer.failures[0])
	}
	if pageErr.Stage != StageNavigate || pageErr.URL != "https://example.com/a" || pageErr.Depth != 1 {
		t.Errorf("PageError = %+v", pageErr)
	}
	var navErr *NavigationError
	if !errors.As(observer.failures[0], &navErr) || !navErr.Timeout {
		t.Errorf("应包装超时的NavigationError: %v", observer.failures[0])
	}
}

func TestCrawl_Invariants(t *testing.T) {
	configs := []struct {
		name     string
		maxPages int
		maxDepth int
	}{
		{"预算0", 0, 3},
		{"深度0", 5, 0},
		{"单页", 1, 2},
		{"预算小于站点", 4, 3},
		{"预算大于站点", 50, 3},
		{"深度1", 50, 1},
		{"深度2", 50, 2},
	}

	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			cfg := models.CrawlConfig{StartURL: "https://example.com/", MaxPages: tc.maxPages, MaxDepth: tc.maxDepth}
			result, err := newTestCrawler(exampleSite(), nil).Crawl(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Crawl() error = %v", err)
			}

			if len(result.Pages) > tc.maxPages {
				t.Errorf("页面数 %d 超过预算 %d", len(result.Pages), tc.maxPages)
			}
			if tc.maxDepth == 0 && len(result.Pages) > 1 {
				t.Errorf("深度0时最多一页, 得到 %d", len(result.Pages))
			}

			seen := make(map[string]bool)
			for _, p := range result.Pages {
				if p.Depth > tc.maxDepth {
					t.Errorf("%s 深度 %d 超过上限 %d", p.URL, p.Depth, tc.maxDepth)
				}
				if seen[p.URL] {
					t.Errorf("重复采集: %s", p.URL)
				}
				seen[p.URL] = true
				if u, _ := url.Parse(p.URL); u.Host != "example.com" {
					t.Errorf("跨主机页面: %s", p.URL)
				}
			}
		})
	}
}

func TestCrawl_DepthFirstOrder(t *testing.T) {
	result, err := newTestCrawler(exampleSite(), nil).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 50,
		MaxDepth: 3,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	// 片段链接/a/2#top、mailto和带端口的主机都被过滤
	assertURLs(t, pageURLs(result), []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/a/1",
		"https://example.com/a/1/deep",
		"https://example.com/b",
		"https://example.com/b/1",
		"https://example.com/c",
		"https://example.com/c/1",
	})

	wantDepth := map[string]int{
		"https://example.com/":         0,
		"https://example.com/a":        1,
		"https://example.com/a/1":      2,
		"https://example.com/a/1/deep": 3,
		"https://example.com/b/1":      2,
	}
	for _, p := range result.Pages {
		if d, ok := wantDepth[p.URL]; ok && d != p.Depth {
			t.Errorf("%s 深度 = %d, want %d", p.URL, p.Depth, d)
		}
	}
}

func TestCrawl_DuplicateLinksNavigatedOnce(t *testing.T) {
	site := newScriptedSite(map[string]scriptedPage{
		"https://example.com/":  linksPage("首页", "/a", "/a", "https://example.com/a", "/b", "/"),
		"https://example.com/a": linksPage("A", "/b"),
		"https://example.com/b": linksPage("B", "/a"),
	})

	result, err := newTestCrawler(site, nil).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 10,
		MaxDepth: 5,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	assertURLs(t, pageURLs(result), []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	})
	assertURLs(t, site.Navigations(), []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	})
}

func TestCrawl_NonCanonicalStartURL(t *testing.T) {
	tests := []struct {
		name     string
		startURL string
	}{
		{"缺少路径", "https://example.com"},
		{"大写主机", "https://Example.com/"},
		{"显式默认端口", "https://example.com:443/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newScriptedSite(map[string]scriptedPage{
				"https://example.com/":  linksPage("首页", "/", "https://example.com/a", "/b"),
				"https://example.com/a": linksPage("A", "https://EXAMPLE.com/"),
				"https://example.com/b": linksPage("B"),
			})

			result, err := newTestCrawler(site, nil).Crawl(context.Background(), models.CrawlConfig{
				StartURL: tt.startURL,
				MaxPages: 10,
				MaxDepth: 2,
			})
			if err != nil {
				t.Fatalf("Crawl() error = %v", err)
			}

			// 首页只采集一次, 同站链接不因主机写法不同被过滤
			assertURLs(t, pageURLs(result), []string{
				"https://example.com/",
				"https://example.com/a",
				"https://example.com/b",
			})
			if result.StartURL != tt.startURL {
				t.Errorf("StartURL = %s, want %s", result.StartURL, tt.startURL)
			}
		})
	}
}

func TestCrawl_ZeroBudgetSkipsRenderer(t *testing.T) {
	site := exampleSite()
	result, err := newTestCrawler(site, nil).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 0,
		MaxDepth: 2,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(result.Pages) != 0 || result.Pages == nil {
		t.Errorf("Pages = %v, want 空切片", result.Pages)
	}
	if site.sessionsOpened != 0 {
		t.Errorf("预算为0时不应获取渲染会话, 打开了 %d 个", site.sessionsOpened)
	}
}

func TestCrawl_StartURLFailure(t *testing.T) {
	site := newScriptedSite(map[string]scriptedPage{
		"https://example.com/": {NavErr: errors.New("net::ERR_CONNECTION_REFUSED")},
	})
	observer := &recordingObserver{}

	result, err := newTestCrawler(site, observer).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 5,
		MaxDepth: 2,
	})
	if err != nil {
		t.Fatalf("入口页失败不应返回错误: %v", err)
	}
	if len(result.Pages) != 0 {
		t.Errorf("Pages = %v, want 空", result.URLs())
	}
	if len(observer.failures) != 1 {
		t.Errorf("失败事件数 = %d, want 1", len(observer.failures))
	}
	if site.sessionsOpened != 1 || site.sessionsClosed != 1 {
		t.Errorf("会话未正确关闭: opened=%d closed=%d", site.sessionsOpened, site.sessionsClosed)
	}
}

func TestCrawl_RendererUnavailable(t *testing.T) {
	site := exampleSite()
	site.sessionErr = errors.New("exec: \"chromium\": executable file not found")

	result, err := newTestCrawler(site, nil).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 5,
		MaxDepth: 1,
	})
	if err == nil {
		t.Fatal("渲染器不可用时应返回错误")
	}
	if result != nil {
		t.Errorf("出错时结果应为nil")
	}
	if !errors.Is(err, ErrRendererUnavailable) {
		t.Errorf("错误应包装ErrRendererUnavailable: %v", err)
	}
	var crawlErr *CrawlError
	if !errors.As(err, &crawlErr) || crawlErr.StartURL != "https://example.com/" {
		t.Errorf("期望CrawlError, 得到 %v", err)
	}
}

func TestCrawl_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.CrawlConfig
	}{
		{"负数预算", models.CrawlConfig{StartURL: "https://example.com/", MaxPages: -1}},
		{"负数深度", models.CrawlConfig{StartURL: "https://example.com/", MaxPages: 1, MaxDepth: -1}},
		{"非http入口", models.CrawlConfig{StartURL: "ftp://example.com/", MaxPages: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := exampleSite()
			_, err := newTestCrawler(site, nil).Crawl(context.Background(), tt.cfg)
			var vErr *models.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("期望ValidationError, 得到 %v", err)
			}
			if site.sessionsOpened != 0 {
				t.Error("配置无效时不应获取渲染会话")
			}
		})
	}
}

func TestCrawl_ExtractionFailureKeepsSnapshot(t *testing.T) {
	site := newScriptedSite(map[string]scriptedPage{
		"https://example.com/": {
			Title:      "首页",
			HTML:       `<a href="/a">a</a>`,
			ExtractErr: errors.New("Execution context was destroyed"),
		},
		"https://example.com/a": linksPage("A"),
	})
	observer := &recordingObserver{}

	result, err := newTestCrawler(site, observer).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 5,
		MaxDepth: 2,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	assertURLs(t, pageURLs(result), []string{"https://example.com/"})
	var pageErr *PageError
	if len(observer.failures) != 1 || !errors.As(observer.failures[0], &pageErr) || pageErr.Stage != StageExtractLinks {
		t.Errorf("期望extract_links阶段的失败, 得到 %v", observer.failures)
	}
}

func TestCrawl_RendererPanicIsPageLevel(t *testing.T) {
	site := newScriptedSite(map[string]scriptedPage{
		"https://example.com/":  linksPage("首页", "/a", "/b"),
		"https://example.com/a": {Title: "A", HTML: "<p>a</p>", PanicAt: StageScreenshot},
		"https://example.com/b": linksPage("B"),
	})
	observer := &recordingObserver{}

	result, err := newTestCrawler(site, observer).Crawl(context.Background(), models.CrawlConfig{
		StartURL: "https://example.com/",
		MaxPages: 5,
		MaxDepth: 1,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	assertURLs(t, pageURLs(result), []string{"https://example.com/", "https://example.com/b"})

	if len(observer.failures) != 1 || !errors.Is(observer.failures[0], ErrRendererPanic) {
		t.Fatalf("期望panic转换为页面级失败, 得到 %v", observer.failures)
	}
	var pageErr *PageError
	if errors.As(observer.failures[0], &pageErr) && pageErr.Stage != StageScreenshot {
		t.Errorf("Stage = %s, want screenshot", pageErr.Stage)
	}

	if site.openPages != 0 {
		t.Errorf("仍有 %d 个页面句柄未关闭", site.openPages)
	}
	if site.maxOpenPages != 1 {
		t.Errorf("子页面访问前父页面应已关闭, 最大同时打开 %d", site.maxOpenPages)
	}
	if site.sessionsClosed != 1 {
		t.Errorf("会话应被关闭")
	}
}

// cancelAfterFirst 第一页采集后取消上下文
type cancelAfterFirst struct {
	cancel context.CancelFunc
}

func (c *cancelAfterFirst) OnPageCaptured(models.PageSnapshot) { c.cancel() }
func (c *cancelAfterFirst) OnPageFailed(string, int, error)   {}

func TestCrawl_ContextCancellation(t *testing.T) {
	t.Run("中途取消返回已采集页面", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		site := exampleSite()
		result, err := newTestCrawler(site, &cancelAfterFirst{cancel: cancel}).Crawl(ctx, models.CrawlConfig{
			StartURL: "https://example.com/",
			MaxPages: 10,
			MaxDepth: 2,
		})
		if err != nil {
			t.Fatalf("取消不应返回错误: %v", err)
		}
		assertURLs(t, pageURLs(result), []string{"https://example.com/"})
		if site.sessionsClosed != 1 {
			t.Error("取消后会话应被关闭")
		}
	})

	t.Run("开始前已取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := newTestCrawler(exampleSite(), nil).Crawl(ctx, models.CrawlConfig{
			StartURL: "https://example.com/",
			MaxPages: 10,
			MaxDepth: 2,
		})
		if err != nil {
			t.Fatalf("Crawl() error = %v", err)
		}
		if len(result.Pages) != 0 {
			t.Errorf("Pages = %v, want 空", result.URLs())
		}
	})
}

func TestCrawl_Deterministic(t *testing.T) {
	cfg := models.CrawlConfig{StartURL: "https://example.com/", MaxPages: 6, MaxDepth: 2}

	first, err := newTestCrawler(exampleSite(), nil).Crawl(context.Background(), cfg)
	if err != nil {
		t.Fatalf("第一次Crawl() error = %v", err)
	}
	second, err := newTestCrawler(exampleSite(), nil).Crawl(context.Background(), cfg)
	if err != nil {
		t.Fatalf("第二次Crawl() error = %v", err)
	}

	if len(first.Pages) != len(second.Pages) {
		t.Fatalf("两次页面数不同: %d vs %d", len(first.Pages), len(second.Pages))
	}
	for i := range first.Pages {
		if first.Pages[i].URL != second.Pages[i].URL || first.Pages[i].Depth != second.Pages[i].Depth {
			t.Errorf("第%d页不一致: %s@%d vs %s@%d", i,
				first.Pages[i].URL, first.Pages[i].Depth,
				second.Pages[i].URL, second.Pages[i].Depth)
		}
	}
}

func TestCrawl_ConcurrentCrawlsAreIsolated(t *testing.T) {
	site := exampleSite()
	crawler := newTestCrawler(site, nil)
	cfg := models.CrawlConfig{StartURL: "https://example.com/", MaxPages: 5, MaxDepth: 2}

	var wg sync.WaitGroup
	results := make([]*models.CrawlResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := crawler.Crawl(context.Background(), cfg)
			if err != nil {
				t.Errorf("Crawl() error = %v", err)
				return
			}
			results[i] = result
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r == nil {
			continue
		}
		if len(r.Pages) != 5 {
			t.Errorf("第%d次爬取页面数 = %d, want 5", i, len(r.Pages))
		}
	}
	if site.sessionsOpened != 4 || site.sessionsClosed != 4 {
		t.Errorf("每次爬取应独占一个会话: opened=%d closed=%d", site.sessionsOpened, site.sessionsClosed)
	}
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, nil, b}

	obs.OnPageCaptured(models.PageSnapshot{URL: "https://example.com/"})
	obs.OnPageFailed("https://example.com/x", 1, errors.New("boom"))

	for i, r := range []*recordingObserver{a, b} {
		if len(r.captured) != 1 || len(r.failures) != 1 {
			t.Errorf("观察者%d 收到 %d/%d 个事件", i, len(r.captured), len(r.failures))
		}
	}
}
