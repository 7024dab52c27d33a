package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// extractLinksJS 收集所有a[href]的绝对地址(由浏览器解析), 保持文档顺序
const extractLinksJS = `() => Array.from(document.querySelectorAll('a[href]')).map(el => el.href)`

// RodRendererConfig Rod渲染器配置
type RodRendererConfig struct {
	Headless          bool
	Bin               string // 浏览器可执行文件, 为空时自动查找或下载
	ControlURL        string // 连接已有浏览器的DevTools地址, 设置后不再启动新浏览器
	IgnoreCertErrors  bool
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	ScreenshotQuality int
	IdleTimeout       time.Duration

	// Headers 额外HTTP头部, 其中的User-Agent会覆盖UserAgent
	Headers models.HeaderProvider
}

// DefaultRodRendererConfig 默认配置
func DefaultRodRendererConfig() RodRendererConfig {
	return RodRendererConfig{
		Headless:          true,
		IgnoreCertErrors:  true,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		UserAgent:         "UX-Evaluation-Agent/1.0",
		ScreenshotQuality: 80,
		IdleTimeout:       5 * time.Second,
	}
}

// RodRenderer 基于go-rod的渲染器
// 浏览器进程在第一次NewSession时启动并被所有会话共享, 每个会话使用独立的无痕上下文
type RodRenderer struct {
	config RodRendererConfig

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodRenderer 创建Rod渲染器
func NewRodRenderer(config RodRendererConfig) *RodRenderer {
	defaults := DefaultRodRendererConfig()
	if config.ViewportWidth <= 0 {
		config.ViewportWidth = defaults.ViewportWidth
	}
	if config.ViewportHeight <= 0 {
		config.ViewportHeight = defaults.ViewportHeight
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.ScreenshotQuality <= 0 || config.ScreenshotQuality > 100 {
		config.ScreenshotQuality = defaults.ScreenshotQuality
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	return &RodRenderer{config: config}
}

// connect 启动或连接浏览器 (只执行一次)
func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	controlURL := r.config.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(r.config.Headless)
		if r.config.Bin != "" {
			l = l.Bin(r.config.Bin)
		}
		if r.config.IgnoreCertErrors {
			l = l.Set("ignore-certificate-errors")
			utils.Warnf("浏览器已配置为跳过HTTPS证书验证,适用于内网/开发环境的自签名证书")
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("启动浏览器失败: %w", err)
		}
		controlURL = u
		r.launcher = l
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		r.cleanupLauncher()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	r.browser = browser
	utils.Debugf("浏览器已连接: %s", controlURL)
	return browser, nil
}

// NewSession 创建一个无痕浏览器上下文作为会话
func (r *RodRenderer) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := r.connect()
	if err != nil {
		return nil, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("创建无痕上下文失败: %w", err)
	}

	userAgent, extraHeaders, err := r.resolveHeaders()
	if err != nil {
		_ = incognito.Close()
		return nil, err
	}

	return &rodSession{
		browser:      incognito,
		config:       r.config,
		userAgent:    userAgent,
		extraHeaders: extraHeaders,
	}, nil
}

// resolveHeaders 拆分出User-Agent, 其余头部转换为SetExtraHeaders需要的键值列表
func (r *RodRenderer) resolveHeaders() (string, []string, error) {
	userAgent := r.config.UserAgent
	if r.config.Headers == nil {
		return userAgent, nil, nil
	}

	headers, err := r.config.Headers.GetHeaders()
	if err != nil {
		return "", nil, fmt.Errorf("获取HTTP头部失败: %w", err)
	}

	if ua := headers.Get("User-Agent"); ua != "" {
		userAgent = ua
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		if http.CanonicalHeaderKey(name) == "User-Agent" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	extra := make([]string, 0, len(names)*2)
	for _, name := range names {
		extra = append(extra, name, headers.Get(name))
	}
	return userAgent, extra, nil
}

// Close 关闭共享浏览器
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
		utils.Debugf("浏览器已关闭")
	}
	r.cleanupLauncher()
	return err
}

func (r *RodRenderer) cleanupLauncher() {
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher.Cleanup()
		r.launcher = nil
	}
}

// rodSession 一个无痕上下文
type rodSession struct {
	browser      *rod.Browser
	config       RodRendererConfig
	userAgent    string
	extraHeaders []string
}

func (s *rodSession) OpenPage(ctx context.Context) (Page, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败(浏览器可能已崩溃): %w", err)
	}
	// 后续调用各自绑定context
	page = page.Context(context.Background())

	if err := s.setupPage(page); err != nil {
		_ = page.Close()
		return nil, err
	}

	return &rodPage{page: page, config: s.config}, nil
}

func (s *rodSession) setupPage(page *rod.Page) error {
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.config.ViewportWidth,
		Height:            s.config.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("设置视口失败: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.userAgent}); err != nil {
		return fmt.Errorf("设置User-Agent失败: %w", err)
	}

	if len(s.extraHeaders) > 0 {
		if _, err := page.SetExtraHeaders(s.extraHeaders); err != nil {
			return fmt.Errorf("设置HTTP头部失败: %w", err)
		}
	}
	return nil
}

func (s *rodSession) Close() error {
	return s.browser.Close()
}

// rodPage 单个标签页
type rodPage struct {
	page   *rod.Page
	config RodRendererConfig
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// networkIdle事件必须在导航前订阅
	idleCtx, cancelIdle := context.WithCancel(navCtx)
	defer cancelIdle()
	waitNetworkIdle := p.page.Context(idleCtx).WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)

	page := p.page.Context(navCtx)
	if err := page.Navigate(url); err != nil {
		return p.navigationError(navCtx, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return p.navigationError(navCtx, url, err)
	}

	// load之后最多再等IdleTimeout, 长连接页面等不到时退回WaitIdle
	timer := time.AfterFunc(p.config.IdleTimeout, cancelIdle)
	defer timer.Stop()
	waitNetworkIdle()

	switch {
	case navCtx.Err() != nil:
		return p.navigationError(navCtx, url, navCtx.Err())
	case idleCtx.Err() != nil:
		utils.Debugf("等待网络空闲超时,继续采集: %s", url)
	}
	return nil
}

func (p *rodPage) navigationError(navCtx context.Context, url string, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded)
	return &NavigationError{URL: url, Timeout: timeout, Cause: err}
}

// WaitIdle 网络空闲之后再等待页面脚本空闲
func (p *rodPage) WaitIdle(ctx context.Context) error {
	return p.page.Context(ctx).WaitIdle(p.config.IdleTimeout)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(p.config.ScreenshotQuality),
	})
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) ExtractLinks(ctx context.Context) ([]string, error) {
	result, err := p.page.Context(ctx).Evaluate(rod.Eval(extractLinksJS))
	if err != nil {
		return nil, fmt.Errorf("执行JavaScript提取链接失败: %w", err)
	}

	links := make([]string, 0)
	for _, item := range result.Value.Arr() {
		if href := item.Str(); href != "" {
			links = append(links, href)
		}
	}
	return links, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
