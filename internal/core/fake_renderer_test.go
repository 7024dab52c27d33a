package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/crawlers"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
)

// fakeSite 内存站点: URL -> 页面上的绝对链接
type fakeSite struct {
	links      map[string][]string
	sessionErr error
	navDelay   time.Duration

	mu          sync.Mutex
	sessions    int
	active      int
	maxActive   int
	navigations []string
}

func newFakeSite(links map[string][]string) *fakeSite {
	return &fakeSite{links: links}
}

func (s *fakeSite) NewSession(ctx context.Context) (crawlers.Session, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	return &fakeSession{site: s}, nil
}

type fakeSession struct {
	site *fakeSite
}

func (fs *fakeSession) OpenPage(ctx context.Context) (crawlers.Page, error) {
	return &fakePage{site: fs.site}, nil
}

func (fs *fakeSession) Close() error {
	fs.site.mu.Lock()
	defer fs.site.mu.Unlock()
	fs.site.active--
	return nil
}

type fakePage struct {
	site *fakeSite
	url  string
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.site.mu.Lock()
	p.site.navigations = append(p.site.navigations, url)
	p.site.mu.Unlock()

	if p.site.navDelay > 0 {
		select {
		case <-ctx.Done():
			return &crawlers.NavigationError{URL: url, Cause: ctx.Err()}
		case <-time.After(p.site.navDelay):
		}
	}
	if _, ok := p.site.links[url]; !ok {
		return &crawlers.NavigationError{URL: url, Cause: errors.New("net::ERR_CONNECTION_REFUSED")}
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitIdle(ctx context.Context) error { return nil }

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return make([]byte, 2048), nil
}

func (p *fakePage) Title(ctx context.Context) (string, error) { return "页面 " + p.url, nil }

func (p *fakePage) Content(ctx context.Context) (string, error) {
	return "<html><body>" + p.url + "</body></html>", nil
}

func (p *fakePage) ExtractLinks(ctx context.Context) ([]string, error) {
	return p.site.links[p.url], nil
}

func (p *fakePage) Close() error { return nil }

// recordingStore 记录保存调用
type recordingStore struct {
	mu     sync.Mutex
	saved  []*models.CrawlTask
	pages  map[string]int
	err    error
	closed bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{pages: make(map[string]int)}
}

func (s *recordingStore) Save(ctx context.Context, task *models.CrawlTask, result *models.CrawlResult, report *models.CrawlReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, task)
	s.pages[task.ID] = result.TotalPages
	return nil
}

func (s *recordingStore) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

// testOptions 测试用的爬虫选项: 不等待
func testOptions() crawlers.CrawlerOptions {
	return crawlers.CrawlerOptions{NavigationTimeout: time.Second}
}
