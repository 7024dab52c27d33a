package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"golang.org/x/net/html"
)

// scriptedPage 脚本化站点中的一个页面
type scriptedPage struct {
	Title       string
	HTML        string
	NavErr      error
	NavTimeout  bool
	ExtractErr  error
	PanicAt     Stage
	ScreenshotB []byte
}

// scriptedSite 内存中的脚本化渲染器, 记录所有调用
type scriptedSite struct {
	pages      map[string]scriptedPage
	sessionErr error

	mu             sync.Mutex
	navigations    []string
	sessionsOpened int
	sessionsClosed int
	openPages      int
	maxOpenPages   int
}

func newScriptedSite(pages map[string]scriptedPage) *scriptedSite {
	return &scriptedSite{pages: pages}
}

// linksPage 生成只包含链接的HTML
func linksPage(title string, hrefs ...string) scriptedPage {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, href, href)
	}
	b.WriteString("</body></html>")
	return scriptedPage{Title: title, HTML: b.String()}
}

func (s *scriptedSite) NewSession(ctx context.Context) (Session, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	s.mu.Lock()
	s.sessionsOpened++
	s.mu.Unlock()
	return &scriptedSession{site: s}, nil
}

func (s *scriptedSite) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

type scriptedSession struct {
	site *scriptedSite
}

func (ss *scriptedSession) OpenPage(ctx context.Context) (Page, error) {
	s := ss.site
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openPages++
	if s.openPages > s.maxOpenPages {
		s.maxOpenPages = s.openPages
	}
	return &scriptedTab{site: s}, nil
}

func (ss *scriptedSession) Close() error {
	ss.site.mu.Lock()
	defer ss.site.mu.Unlock()
	ss.site.sessionsClosed++
	return nil
}

type scriptedTab struct {
	site    *scriptedSite
	url     string
	current scriptedPage
}

func (t *scriptedTab) maybePanic(stage Stage) {
	if t.current.PanicAt == stage {
		panic(fmt.Sprintf("模拟渲染器崩溃 @%s", stage))
	}
}

func (t *scriptedTab) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	t.site.mu.Lock()
	t.site.navigations = append(t.site.navigations, rawURL)
	t.site.mu.Unlock()

	page, ok := t.site.pages[rawURL]
	if !ok {
		return &NavigationError{URL: rawURL, Cause: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	}
	if page.NavTimeout {
		return &NavigationError{URL: rawURL, Timeout: true, Cause: context.DeadlineExceeded}
	}
	if page.NavErr != nil {
		return &NavigationError{URL: rawURL, Cause: page.NavErr}
	}
	t.url = rawURL
	t.current = page
	t.maybePanic(StageNavigate)
	return nil
}

func (t *scriptedTab) WaitIdle(ctx context.Context) error {
	t.maybePanic(StageWaitIdle)
	return nil
}

func (t *scriptedTab) Screenshot(ctx context.Context) ([]byte, error) {
	t.maybePanic(StageScreenshot)
	if t.current.ScreenshotB != nil {
		return t.current.ScreenshotB, nil
	}
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func (t *scriptedTab) Title(ctx context.Context) (string, error) {
	t.maybePanic(StageTitle)
	return t.current.Title, nil
}

func (t *scriptedTab) Content(ctx context.Context) (string, error) {
	t.maybePanic(StageContent)
	return t.current.HTML, nil
}

// ExtractLinks 模拟浏览器的el.href: 相对地址按当前页面解析为绝对地址
func (t *scriptedTab) ExtractLinks(ctx context.Context) ([]string, error) {
	t.maybePanic(StageExtractLinks)
	if t.current.ExtractErr != nil {
		return nil, t.current.ExtractErr
	}

	doc, err := html.Parse(strings.NewReader(t.current.HTML))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(t.url)
	if err != nil {
		return nil, err
	}

	var links []string
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.Data != "a" {
			continue
		}
		for _, a := range n.Attr {
			if a.Key != "href" {
				continue
			}
			ref, err := url.Parse(a.Val)
			if err != nil {
				continue
			}
			links = append(links, base.ResolveReference(ref).String())
		}
	}
	return links, nil
}

func (t *scriptedTab) Close() error {
	t.site.mu.Lock()
	defer t.site.mu.Unlock()
	t.site.openPages--
	return nil
}

// recordingObserver 记录观察者事件
type recordingObserver struct {
	captured []models.PageSnapshot
	failures []error
}

func (r *recordingObserver) OnPageCaptured(page models.PageSnapshot) {
	r.captured = append(r.captured, page)
}

func (r *recordingObserver) OnPageFailed(url string, depth int, err error) {
	r.failures = append(r.failures, err)
}
