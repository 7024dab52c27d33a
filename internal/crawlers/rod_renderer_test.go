package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/go-rod/rod/lib/launcher"
)

type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(h), nil
}

func newRodRendererForTest(t *testing.T, headers models.HeaderProvider) *RodRenderer {
	t.Helper()
	if testing.Short() {
		t.Skip("short模式下跳过浏览器集成测试")
	}
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("未找到Chrome/Chromium, 跳过浏览器集成测试")
	}

	config := DefaultRodRendererConfig()
	config.Bin = bin
	config.IdleTimeout = 2 * time.Second
	config.Headers = headers

	renderer := NewRodRenderer(config)
	t.Cleanup(func() { _ = renderer.Close() })
	return renderer
}

func TestRodRenderer_CrawlLocalSite(t *testing.T) {
	var (
		mu              sync.Mutex
		gotUA, gotAudit string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotAudit = r.Header.Get("X-Ux-Audit")
		mu.Unlock()
		fmt.Fprint(w, `<html><head><title>首页</title></head><body>
			<a href="/about">关于</a>
			<a href="/contact#form">联系</a>
			<a href="https://other.invalid/">外站</a>
		</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>关于我们</title></head><body><a href="/">home</a></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	headers := http.Header{}
	headers.Set("X-UX-Audit", "integration")
	renderer := newRodRendererForTest(t, staticHeaders(headers))

	crawler := NewCrawler(renderer, CrawlerOptions{NavigationTimeout: 15 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := crawler.Crawl(ctx, models.CrawlConfig{StartURL: server.URL + "/", MaxPages: 5, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(result.Pages) != 2 {
		t.Fatalf("页面数 = %d (%v), want 2", len(result.Pages), result.URLs())
	}
	if result.Pages[0].Title != "首页" || result.Pages[1].Title != "关于我们" {
		t.Errorf("标题 = %q, %q", result.Pages[0].Title, result.Pages[1].Title)
	}
	for _, p := range result.Pages {
		if len(p.Screenshot) < 3 || p.Screenshot[0] != 0xFF || p.Screenshot[1] != 0xD8 {
			t.Errorf("%s 截图不是JPEG", p.URL)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if gotUA != "UX-Evaluation-Agent/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAudit != "integration" {
		t.Errorf("额外头部未生效: %q", gotAudit)
	}
}

func TestRodRenderer_NavigationFailure(t *testing.T) {
	renderer := newRodRendererForTest(t, nil)

	session, err := renderer.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer session.Close()

	page, err := session.OpenPage(context.Background())
	if err != nil {
		t.Fatalf("OpenPage() error = %v", err)
	}
	defer page.Close()

	err = page.Navigate(context.Background(), "http://127.0.0.1:1/", 5*time.Second)
	if err == nil {
		t.Fatal("连接被拒绝时应返回错误")
	}
	if _, ok := err.(*NavigationError); !ok {
		t.Errorf("期望*NavigationError, 得到 %T", err)
	}
}

func openRodPageForTest(t *testing.T) Page {
	t.Helper()
	renderer := newRodRendererForTest(t, nil)

	session, err := renderer.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	page, err := session.OpenPage(context.Background())
	if err != nil {
		t.Fatalf("OpenPage() error = %v", err)
	}
	t.Cleanup(func() { _ = page.Close() })
	return page
}

func TestRodRenderer_NavigateWaitsForNetworkIdle(t *testing.T) {
	var slowDone atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>加载中</title></head><body><script>
			window.addEventListener("load", function () {
				fetch("/slow").then(function (r) { return r.text() }).then(function (t) { document.title = t })
			})
		</script></body></html>`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(800 * time.Millisecond)
		fmt.Fprint(w, "数据已加载")
		slowDone.Store(true)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	page := openRodPageForTest(t)
	if err := page.Navigate(context.Background(), server.URL+"/", 15*time.Second); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if !slowDone.Load() {
		t.Error("Navigate() 在load之后的请求完成前就返回了")
	}
	title, err := page.Title(context.Background())
	if err != nil {
		t.Fatalf("Title() error = %v", err)
	}
	if title != "数据已加载" {
		t.Errorf("标题 = %q, want 数据已加载", title)
	}
}

func TestRodRenderer_NavigateFallsBackOnBusyNetwork(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>长连接</title></head><body><script>
			window.addEventListener("load", function () { fetch("/poll") })
		</script></body></html>`)
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	defer close(release)

	page := openRodPageForTest(t)
	start := time.Now()
	if err := page.Navigate(context.Background(), server.URL+"/", 15*time.Second); err != nil {
		t.Fatalf("网络一直繁忙时不应视为导航失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Navigate() 耗时 %s, 应在空闲等待超时后返回", elapsed)
	}
}

func TestRodRenderer_ResolveHeaders(t *testing.T) {
	t.Run("无头部提供者时使用默认UA", func(t *testing.T) {
		ua, extra, err := NewRodRenderer(RodRendererConfig{}).resolveHeaders()
		if err != nil {
			t.Fatalf("resolveHeaders() error = %v", err)
		}
		if ua != "UX-Evaluation-Agent/1.0" || len(extra) != 0 {
			t.Errorf("ua=%q extra=%v", ua, extra)
		}
	})

	t.Run("User-Agent覆盖且其余头部排序", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("User-Agent", "Custom/2.0")
		headers.Set("X-B", "2")
		headers.Set("Accept-Language", "zh-CN")

		ua, extra, err := NewRodRenderer(RodRendererConfig{Headers: staticHeaders(headers)}).resolveHeaders()
		if err != nil {
			t.Fatalf("resolveHeaders() error = %v", err)
		}
		if ua != "Custom/2.0" {
			t.Errorf("ua = %q, want Custom/2.0", ua)
		}
		want := []string{"Accept-Language", "zh-CN", "X-B", "2"}
		if fmt.Sprint(extra) != fmt.Sprint(want) {
			t.Errorf("extra = %v, want %v", extra, want)
		}
	})
}

func TestNewRodRenderer_Defaults(t *testing.T) {
	r := NewRodRenderer(RodRendererConfig{ScreenshotQuality: 150})
	if r.config.ViewportWidth != 1280 || r.config.ViewportHeight != 800 {
		t.Errorf("默认视口 = %dx%d", r.config.ViewportWidth, r.config.ViewportHeight)
	}
	if r.config.ScreenshotQuality != 80 {
		t.Errorf("非法截图质量应回退为80, 得到 %d", r.config.ScreenshotQuality)
	}
	if err := r.Close(); err != nil {
		t.Errorf("未启动时Close() error = %v", err)
	}
}
