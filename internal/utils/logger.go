package utils

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	mainLogName  = "ux_crawler.log"
	errorLogName = "ux_crawler_error.log"
)

// Logger 全局日志器
var Logger = zerolog.Nop()

// LogConfig 日志配置
type LogConfig struct {
	Level      string // 日志级别: trace, debug, info, warn, error, fatal, panic
	LogDir     string // 日志目录
	MaxSize    int    // 单个日志文件最大大小(MB)
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩旧日志

	// Console 控制台输出目标, 为nil时使用os.Stderr(stdout留给进度条和结果表格)
	Console io.Writer
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger 初始化全局日志
// 控制台和主日志记录所有级别, 错误日志只收ERROR及以上
func InitLogger(config LogConfig) error {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := config.Console
	if console == nil {
		console = os.Stderr
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
		rotatingFile(config, mainLogName),
		minLevelWriter{w: rotatingFile(config, errorLogName), min: zerolog.ErrorLevel},
	)).With().Timestamp().Caller().Logger()
	log.Logger = Logger

	Logger.Info().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("日志系统初始化完成")
	return nil
}

func rotatingFile(config LogConfig, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, name),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}

// minLevelWriter 丢弃低于min的日志, 无级别的写入透传
type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m minLevelWriter) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

func (m minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}

// 包级快捷方法, 写入全局Logger
func Info(msg string) { Logger.Info().Msg(msg) }
func Infof(format string, args ...any) { Logger.Info().Msgf(format, args...) }
func Warn(msg string) { Logger.Warn().Msg(msg) }
func Warnf(format string, args ...any) { Logger.Warn().Msgf(format, args...) }
func Errorf(format string, args ...any) { Logger.Error().Msgf(format, args...) }
func Debugf(format string, args ...any) { Logger.Debug().Msgf(format, args...) }
