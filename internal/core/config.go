package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/crawlers"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/storage"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 例如 UXCRAWL_CRAWL_MAX_PAGES
const EnvPrefix = "UXCRAWL"

// Config 应用程序配置
type Config struct {
	Crawl    CrawlSettings    `mapstructure:"crawl"`
	Renderer RendererSettings `mapstructure:"renderer"`
	Storage  storage.Config   `mapstructure:"storage"`
	Batch    BatchSettings    `mapstructure:"batch"`
	Resource ResourceSettings `mapstructure:"resource"`
	Logging  LoggingConfig    `mapstructure:"logging"`
}

// CrawlSettings 爬取配置
type CrawlSettings struct {
	MaxPages    int           `mapstructure:"max_pages"`
	MaxDepth    int           `mapstructure:"max_depth"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	PacingDelay time.Duration `mapstructure:"pacing_delay"`
}

// RendererSettings 浏览器配置
type RendererSettings struct {
	Headless          bool          `mapstructure:"headless"`
	Bin               string        `mapstructure:"bin"`
	ControlURL        string        `mapstructure:"control_url"`
	IgnoreCertErrors  bool          `mapstructure:"ignore_cert_errors"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	UserAgent         string        `mapstructure:"user_agent"`
	ScreenshotQuality int           `mapstructure:"screenshot_quality"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// BatchSettings 批量爬取配置
type BatchSettings struct {
	Concurrency     int           `mapstructure:"concurrency"`
	Delay           time.Duration `mapstructure:"delay"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

// ResourceSettings 资源监控配置(内存单位MB)
type ResourceSettings struct {
	SafetyReserveMB  int64 `mapstructure:"safety_reserve_mb"`
	SafetyThreshold  int64 `mapstructure:"safety_threshold_mb"`
	SessionMemoryMB  int64 `mapstructure:"session_memory_mb"`
	CPULoadThreshold int   `mapstructure:"cpu_load_threshold"`
	MaxSessionsLimit int   `mapstructure:"max_sessions_limit"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// LoadConfig 加载配置文件
// configPath为空时搜索 ./configs/config.yaml, ./config.yaml, ~/.uxcrawl/config.yaml, 都不存在时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".uxcrawl"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults 设置默认配置值
// AutomaticEnv只对已知键生效, 所以每个键都需要默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.nav_timeout", crawlers.DefaultNavigationTimeout)
	v.SetDefault("crawl.pacing_delay", crawlers.DefaultPacingDelay)

	renderer := crawlers.DefaultRodRendererConfig()
	v.SetDefault("renderer.headless", renderer.Headless)
	v.SetDefault("renderer.bin", "")
	v.SetDefault("renderer.control_url", "")
	v.SetDefault("renderer.ignore_cert_errors", renderer.IgnoreCertErrors)
	v.SetDefault("renderer.viewport_width", renderer.ViewportWidth)
	v.SetDefault("renderer.viewport_height", renderer.ViewportHeight)
	v.SetDefault("renderer.user_agent", renderer.UserAgent)
	v.SetDefault("renderer.screenshot_quality", renderer.ScreenshotQuality)
	v.SetDefault("renderer.idle_timeout", renderer.IdleTimeout)

	v.SetDefault("storage.driver", storage.DriverFile)
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.compress_markup", false)
	v.SetDefault("storage.mongo.uri", "")
	v.SetDefault("storage.mongo.database", "ux_evaluation")
	v.SetDefault("storage.mongo.timeout", 10*time.Second)

	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.delay", 0)
	v.SetDefault("batch.continue_on_error", true)

	v.SetDefault("resource.safety_reserve_mb", 1024)
	v.SetDefault("resource.safety_threshold_mb", 500)
	v.SetDefault("resource.session_memory_mb", 200)
	v.SetDefault("resource.cpu_load_threshold", 80)
	v.SetDefault("resource.max_sessions_limit", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Crawl.MaxPages < 0 {
		return &models.ValidationError{
			Field:      "crawl.max_pages",
			Value:      fmt.Sprint(c.Crawl.MaxPages),
			Reason:     "页面预算不能为负数",
			Suggestion: "使用0或正整数",
		}
	}
	if c.Crawl.MaxDepth < 0 {
		return &models.ValidationError{
			Field:      "crawl.max_depth",
			Value:      fmt.Sprint(c.Crawl.MaxDepth),
			Reason:     "爬取深度不能为负数",
			Suggestion: "使用0或正整数",
		}
	}
	if q := c.Renderer.ScreenshotQuality; q < 1 || q > 100 {
		return &models.ValidationError{
			Field:      "renderer.screenshot_quality",
			Value:      fmt.Sprint(q),
			Reason:     "JPEG质量超出范围",
			Suggestion: "使用1-100之间的整数",
		}
	}
	switch c.Storage.Driver {
	case storage.DriverNone, storage.DriverFile, storage.DriverMongo:
	default:
		return &models.ValidationError{
			Field:      "storage.driver",
			Value:      c.Storage.Driver,
			Reason:     "未知的存储驱动",
			Suggestion: "可选值: none, file, mongo",
		}
	}
	if c.Batch.Concurrency < 1 {
		return &models.ValidationError{
			Field:      "batch.concurrency",
			Value:      fmt.Sprint(c.Batch.Concurrency),
			Reason:     "并发数必须大于0",
			Suggestion: "使用正整数",
		}
	}
	return nil
}

// CrawlConfig 为入口URL生成单次爬取配置
func (c *Config) CrawlConfig(startURL string) models.CrawlConfig {
	return models.CrawlConfig{
		StartURL: startURL,
		MaxPages: c.Crawl.MaxPages,
		MaxDepth: c.Crawl.MaxDepth,
	}
}

// CrawlerOptions 爬虫选项
func (c *Config) CrawlerOptions() crawlers.CrawlerOptions {
	return crawlers.CrawlerOptions{
		NavigationTimeout: c.Crawl.NavTimeout,
		PacingDelay:       c.Crawl.PacingDelay,
	}
}

// RendererConfig 浏览器渲染器配置
func (c *Config) RendererConfig(headers models.HeaderProvider) crawlers.RodRendererConfig {
	r := c.Renderer
	return crawlers.RodRendererConfig{
		Headless:          r.Headless,
		Bin:               r.Bin,
		ControlURL:        r.ControlURL,
		IgnoreCertErrors:  r.IgnoreCertErrors,
		ViewportWidth:     r.ViewportWidth,
		ViewportHeight:    r.ViewportHeight,
		UserAgent:         r.UserAgent,
		ScreenshotQuality: r.ScreenshotQuality,
		IdleTimeout:       r.IdleTimeout,
		Headers:           headers,
	}
}

// ResourceMonitorConfig 资源监控器配置
func (c *Config) ResourceMonitorConfig() crawlers.ResourceMonitorConfig {
	const mb = 1024 * 1024
	r := c.Resource
	return crawlers.ResourceMonitorConfig{
		SafetyReserveMemory: r.SafetyReserveMB * mb,
		SafetyThreshold:     r.SafetyThreshold * mb,
		CPULoadThreshold:    r.CPULoadThreshold,
		MaxSessionsLimit:    r.MaxSessionsLimit,
		SessionMemoryUsage:  r.SessionMemoryMB * mb,
	}
}

// LogConfig 日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}
