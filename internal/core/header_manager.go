package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/UXCrawl/internal/config"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
)

const (
	// DefaultUserAgent 评估代理的默认User-Agent
	DefaultUserAgent = "UX-Evaluation-Agent/1.0"
)

// HeaderManager 管理注入浏览器的HTTP头部
// 优先级: 默认 < 配置文件 < 命令行, 实现 models.HeaderProvider
// 批量模式下多个会话并发调用GetHeaders
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header

	validator    *utils.HeaderValidator
	redactor     *utils.HeaderRedactor
	configLoader *config.HeaderConfigLoader

	mu      sync.Mutex
	loaded  bool
	merged  http.Header
	loadErr error
}

// NewHeaderManager 创建头部管理器
// configFile为空时使用默认路径, 文件不存在视为未配置
func NewHeaderManager(configFile string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:     getDefaultHeaders(),
		config:       make(http.Header),
		cli:          make(http.Header),
		validator:    utils.NewHeaderValidator(),
		redactor:     utils.NewHeaderRedactor(),
		configLoader: config.NewHeaderConfigLoader(configFile, false),
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	return hm, nil
}

// getDefaultHeaders 默认头部
// Accept/Accept-Encoding由浏览器自行协商, 这里只固定User-Agent
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent": []string{DefaultUserAgent},
	}
}

// load 加载配置文件、校验并合并, 结果缓存
func (hm *HeaderManager) load() (http.Header, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.loaded {
		return hm.merged, hm.loadErr
	}
	hm.loaded = true

	headerConfig, err := hm.configLoader.LoadConfig()
	if err != nil {
		utils.Errorf("加载HTTP头部配置失败: %v", err)
		hm.loadErr = err
		return nil, err
	}
	for name, value := range headerConfig.Headers {
		hm.config.Set(name, value)
	}

	for _, source := range []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"配置文件", hm.config},
		{"命令行", hm.cli},
	} {
		if err := hm.validator.Validate(source.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", source.name, err)
			hm.loadErr = err
			return nil, err
		}
	}

	hm.merged = hm.mergeLocked()
	utils.Debugf("生效的HTTP头部: %s", hm.redactor.RedactToString(hm.merged))
	return hm.merged, nil
}

// mergeLocked 按优先级合并头部
func (hm *HeaderManager) mergeLocked() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetHeaders 实现 models.HeaderProvider, 返回副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	merged, err := hm.load()
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志和校验输出)
func (hm *HeaderManager) GetSafeHeaders() (map[string]string, error) {
	merged, err := hm.load()
	if err != nil {
		return nil, err
	}
	return hm.redactor.Redact(merged), nil
}
