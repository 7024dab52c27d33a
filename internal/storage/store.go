// Package storage 持久化爬取结果, 供下游分析器读取
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
)

// 存储驱动
const (
	DriverNone  = "none"
	DriverFile  = "file"
	DriverMongo = "mongo"
)

// ErrUnknownDriver 未知的存储驱动
var ErrUnknownDriver = errors.New("未知的存储驱动")

// ResultStore 爬取结果存储
type ResultStore interface {
	// Save 保存一次爬取的任务、快照和报告
	// 存储可以回填报告中的文件路径
	Save(ctx context.Context, task *models.CrawlTask, result *models.CrawlResult, report *models.CrawlReport) error
	Close(ctx context.Context) error
}

// Config 存储配置
type Config struct {
	Driver         string      `mapstructure:"driver"`
	OutputDir      string      `mapstructure:"output_dir"`
	CompressMarkup bool        `mapstructure:"compress_markup"`
	Mongo          MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB配置
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Open 按驱动创建存储
func Open(ctx context.Context, cfg Config) (ResultStore, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return NopStore{}, nil
	case DriverFile:
		return NewFileStore(cfg.OutputDir, cfg.CompressMarkup)
	case DriverMongo:
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("%w: %s (可选: none, file, mongo)", ErrUnknownDriver, cfg.Driver)
	}
}

// NopStore 不保存任何内容
type NopStore struct{}

func (NopStore) Save(context.Context, *models.CrawlTask, *models.CrawlResult, *models.CrawlReport) error {
	return nil
}

func (NopStore) Close(context.Context) error { return nil }
