package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocarina/gocsv"
)

const (
	resultFile    = "result.json"
	reportFile    = "report.json"
	pagesCSVFile  = "pages.csv"
	screenshotDir = "screenshots"
	markupDir     = "markup"
)

// FileStore 按 <输出目录>/<主机>/<任务ID>/ 落盘
//
//	result.json        结果元数据 (不含二进制)
//	report.json        爬取报告
//	pages.csv          页面列表
//	screenshots/001.jpg
//	markup/001.html[.br]
type FileStore struct {
	baseDir  string
	compress bool
	create   func(path string) (io.WriteCloser, error)
}

// fileResult result.json的结构
type fileResult struct {
	TaskID     string            `json:"task_id"`
	StartURL   string            `json:"start_url"`
	TotalPages int               `json:"total_pages"`
	Timestamp  time.Time         `json:"timestamp"`
	Pages      []models.PageInfo `json:"pages"`
}

// NewFileStore 创建文件存储
func NewFileStore(baseDir string, compressMarkup bool) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "output"
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败 [%s]: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir, compress: compressMarkup, create: createFile}, nil
}

// TaskDir 任务输出目录
func (fs *FileStore) TaskDir(task *models.CrawlTask) string {
	return filepath.Join(fs.baseDir, utils.SafeDirName(task.Domain), task.ID)
}

// Save 写入截图、页面源码、结果、报告和CSV
func (fs *FileStore) Save(ctx context.Context, task *models.CrawlTask, result *models.CrawlResult, report *models.CrawlReport) error {
	dir := fs.TaskDir(task)
	for _, sub := range []string{screenshotDir, markupDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("创建目录失败 [%s]: %w", sub, err)
		}
	}

	infos := make([]models.PageInfo, len(result.Pages))
	for i, page := range result.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}

		info := models.NewPageInfo(i+1, page)
		info.ScreenshotPath = filepath.Join(screenshotDir, fmt.Sprintf("%03d.jpg", i+1))
		info.MarkupPath = filepath.Join(markupDir, fmt.Sprintf("%03d.html", i+1))
		if fs.compress {
			info.MarkupPath += ".br"
		}

		if err := os.WriteFile(filepath.Join(dir, info.ScreenshotPath), page.Screenshot, 0644); err != nil {
			return fmt.Errorf("写入截图失败 [%s]: %w", page.URL, err)
		}
		if err := fs.writeMarkup(filepath.Join(dir, info.MarkupPath), page.Markup); err != nil {
			return fmt.Errorf("写入页面源码失败 [%s]: %w", page.URL, err)
		}
		infos[i] = info
	}

	if report != nil {
		report.Pages = infos
		if err := writeJSON(filepath.Join(dir, reportFile), report); err != nil {
			return err
		}
	}

	if err := writeJSON(filepath.Join(dir, resultFile), fileResult{
		TaskID:     task.ID,
		StartURL:   result.StartURL,
		TotalPages: result.TotalPages,
		Timestamp:  result.Timestamp,
		Pages:      infos,
	}); err != nil {
		return err
	}

	if err := writePagesCSV(filepath.Join(dir, pagesCSVFile), infos); err != nil {
		return err
	}

	utils.Infof("💾 结果已保存: %s", dir)
	return nil
}

func createFile(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// writeMarkup 写入页面源码, 文件关闭失败同样视为写入失败
func (fs *FileStore) writeMarkup(path, markup string) (err error) {
	file, err := fs.create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	if !fs.compress {
		_, err = io.WriteString(file, markup)
		return err
	}

	w := brotli.NewWriterLevel(file, brotli.DefaultCompression)
	if _, err := io.WriteString(w, markup); err != nil {
		return err
	}
	return w.Close()
}

// Load 从任务目录读回爬取结果 (含截图和页面源码)
func (fs *FileStore) Load(taskDir string) (*models.CrawlResult, error) {
	data, err := os.ReadFile(filepath.Join(taskDir, resultFile))
	if err != nil {
		return nil, fmt.Errorf("读取结果文件失败: %w", err)
	}

	var stored fileResult
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("解析结果文件失败: %w", err)
	}

	pages := make([]models.PageSnapshot, 0, len(stored.Pages))
	for _, info := range stored.Pages {
		screenshot, err := os.ReadFile(filepath.Join(taskDir, info.ScreenshotPath))
		if err != nil {
			return nil, fmt.Errorf("读取截图失败 [%s]: %w", info.URL, err)
		}
		markup, err := readMarkup(filepath.Join(taskDir, info.MarkupPath))
		if err != nil {
			return nil, fmt.Errorf("读取页面源码失败 [%s]: %w", info.URL, err)
		}
		pages = append(pages, models.PageSnapshot{
			URL:        info.URL,
			Title:      info.Title,
			Markup:     markup,
			Screenshot: screenshot,
			CapturedAt: info.CapturedAt,
			Depth:      info.Depth,
		})
	}

	return &models.CrawlResult{
		Pages:      pages,
		StartURL:   stored.StartURL,
		TotalPages: len(pages),
		Timestamp:  stored.Timestamp,
	}, nil
}

func readMarkup(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".br") {
		r = brotli.NewReader(file)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close 文件存储无需释放资源
func (fs *FileStore) Close(context.Context) error {
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入文件失败 [%s]: %w", filepath.Base(path), err)
	}
	return nil
}

func writePagesCSV(path string, infos []models.PageInfo) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建CSV文件失败: %w", err)
	}

	if err := gocsv.MarshalFile(&infos, file); err != nil {
		_ = file.Close()
		return fmt.Errorf("导出CSV失败: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("关闭CSV文件失败: %w", err)
	}
	return nil
}
