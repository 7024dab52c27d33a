package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultHeaderFile 默认头部配置文件路径
	DefaultHeaderFile = "configs/headers.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

//go:embed headers_template.yaml
var defaultHeaderTemplate string

// HeaderTemplate 返回内置的头部配置模板
func HeaderTemplate() string {
	return defaultHeaderTemplate
}

// HeaderConfigLoader 头部配置文件加载器
// 文件中的头部会注入到每个页面请求 (例如访问需要登录的预发环境)
type HeaderConfigLoader struct {
	configPath string
	autoCreate bool
}

// NewHeaderConfigLoader 创建加载器
// autoCreate为true时, 文件不存在会写入模板; 否则视为没有配置头部
func NewHeaderConfigLoader(configPath string, autoCreate bool) *HeaderConfigLoader {
	if configPath == "" {
		configPath = DefaultHeaderFile
	}
	return &HeaderConfigLoader{configPath: configPath, autoCreate: autoCreate}
}

// Path 配置文件路径
func (hcl *HeaderConfigLoader) Path() string {
	return hcl.configPath
}

// EnsureConfigExists 文件不存在时写入模板
func (hcl *HeaderConfigLoader) EnsureConfigExists() error {
	if _, err := os.Stat(hcl.configPath); os.IsNotExist(err) {
		dir := filepath.Dir(hcl.configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
		}

		if err := os.WriteFile(hcl.configPath, []byte(defaultHeaderTemplate), 0644); err != nil {
			return fmt.Errorf("无法生成配置文件 [%s]: %w", hcl.configPath, err)
		}
		utils.Infof("已生成头部配置模板: %s", hcl.configPath)
	}
	return nil
}

// ValidateFileSize 验证配置文件大小
func (hcl *HeaderConfigLoader) ValidateFileSize() error {
	info, err := os.Stat(hcl.configPath)
	if err != nil {
		return fmt.Errorf("无法读取配置文件信息 [%s]: %w", hcl.configPath, err)
	}

	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}

	return nil
}

// LoadConfig 加载并解析头部配置
// 文件缺失且不自动创建, 或文件被其他进程锁定时, 返回空配置
func (hcl *HeaderConfigLoader) LoadConfig() (*models.HeaderConfig, error) {
	empty := &models.HeaderConfig{Headers: make(map[string]string)}

	if hcl.autoCreate {
		if err := hcl.EnsureConfigExists(); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(hcl.configPath); os.IsNotExist(err) {
		utils.Debugf("头部配置文件不存在, 跳过: %s", hcl.configPath)
		return empty, nil
	}

	if err := hcl.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(hcl.configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("配置文件被锁定 [%s], 使用默认头部", hcl.configPath)
			return empty, nil
		}
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	var config models.HeaderConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}

	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}

	return &config, nil
}
