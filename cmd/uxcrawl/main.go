package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/core"
	"github.com/RecoveryAshes/UXCrawl/internal/crawlers"
	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/storage"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headersConfigFile string
	headers           []string
	validateConfig    bool

	// 爬取参数
	targetURL   string
	urlFile     string
	maxPages    int
	depth       int
	navTimeout  time.Duration
	pacingDelay time.Duration
	headless    bool
	browserBin  string
	controlURL  string

	// 存储参数
	outputDir      string
	storeDriver    string
	compressMarkup bool
	mongoURI       string

	// 批量处理参数
	concurrency     int
	batchDelay      time.Duration
	continueOnError bool
)

// appConfig 在PersistentPreRunE中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "uxcrawl",
	Short: "面向可用性评估的有界站点爬虫",
	Long: `UXCrawl - 面向可用性评估的有界站点爬虫

从入口URL开始, 用真实浏览器渲染同域页面, 为每个页面保存:
  • 整页截图 (JPEG)
  • 渲染后的页面源码
  • 标题、深度与采集时间

页面数和深度都有上限, 单个页面失败不会中断整次爬取。

示例:
  # 爬取单个站点, 最多20页, 深度3
  uxcrawl -u https://example.com --max-pages 20 --depth 3

  # 批量爬取, 结果写入MongoDB
  uxcrawl --url-file urls.txt --store mongo --mongo-uri mongodb://localhost:27017

  # 注入额外HTTP头部 (如预发环境的访问凭证)
  uxcrawl -u https://staging.example.com -H "X-Staging-Access: abc123"

  # 验证配置
  uxcrawl --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		if err := applyFlags(cmd, config); err != nil {
			return err
		}
		appConfig = config

		logConfig := config.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}
		return nil
	},
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	// 版本信息不依赖配置文件
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("UXCrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// applyFlags 命令行参数优先于配置文件和环境变量
func applyFlags(cmd *cobra.Command, config *core.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		config.Crawl.MaxPages = maxPages
	}
	if flags.Changed("depth") {
		config.Crawl.MaxDepth = depth
	}
	if flags.Changed("timeout") {
		config.Crawl.NavTimeout = navTimeout
	}
	if flags.Changed("delay") {
		config.Crawl.PacingDelay = pacingDelay
	}
	if flags.Changed("headless") {
		config.Renderer.Headless = headless
	}
	if flags.Changed("browser-bin") {
		config.Renderer.Bin = browserBin
	}
	if flags.Changed("control-url") {
		config.Renderer.ControlURL = controlURL
	}
	if flags.Changed("output") {
		config.Storage.OutputDir = outputDir
	}
	if flags.Changed("store") {
		config.Storage.Driver = storeDriver
	}
	if flags.Changed("compress") {
		config.Storage.CompressMarkup = compressMarkup
	}
	if flags.Changed("mongo-uri") {
		config.Storage.Mongo.URI = mongoURI
	}
	if flags.Changed("concurrency") {
		config.Batch.Concurrency = concurrency
	}
	if flags.Changed("batch-delay") {
		config.Batch.Delay = batchDelay
	}
	if flags.Changed("continue-on-error") {
		config.Batch.ContinueOnError = continueOnError
	}
	return config.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	// Ctrl+C 取消爬取, 已采集的页面仍会保存
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	headerManager, err := core.NewHeaderManager(headersConfigFile, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	if validateConfig {
		return runValidateConfig(headerManager)
	}

	if targetURL == "" && urlFile == "" {
		return cmd.Help()
	}

	if targetURL != "" {
		targetURL, err = NormalizeURL(targetURL)
		if err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}
	if err := ValidateFlags(targetURL, urlFile, appConfig.Crawl); err != nil {
		return err
	}

	// 提前发现头部配置错误, 而不是在第一个页面上失败
	if _, err := headerManager.GetHeaders(); err != nil {
		return fmt.Errorf("HTTP头部配置无效: %w", err)
	}

	store, err := storage.Open(ctx, appConfig.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			utils.Warnf("关闭存储失败: %v", err)
		}
	}()

	renderer := crawlers.NewRodRenderer(appConfig.RendererConfig(headerManager))
	defer func() {
		if err := renderer.Close(); err != nil {
			utils.Warnf("关闭浏览器失败: %v", err)
		}
	}()

	runner := core.NewTaskRunner(renderer, appConfig.CrawlerOptions(), store)

	if urlFile != "" {
		return runBatch(ctx, runner)
	}
	return runSingle(ctx, runner)
}

// runSingle 单URL爬取模式
func runSingle(ctx context.Context, runner *core.TaskRunner) error {
	task, err := models.NewCrawlTask(appConfig.CrawlConfig(targetURL))
	if err != nil {
		return err
	}

	reporter := utils.NewReporter(appConfig.Crawl.MaxPages, "📸 采集页面", os.Stdout)
	outcome, err := runner.Run(ctx, task, reporter)
	reporter.Finish()

	if outcome != nil && outcome.Report != nil {
		fmt.Println()
		utils.PrintPageTable(os.Stdout, outcome.Report)
	}
	if err != nil {
		return fmt.Errorf("爬取失败: %w", err)
	}

	if ctx.Err() != nil {
		utils.Warn("收到中断信号, 已保存中断前采集的页面")
		return nil
	}
	utils.Info("✨ 爬取任务完成!")
	return nil
}

// runBatch 批量爬取模式
func runBatch(ctx context.Context, runner *core.TaskRunner) error {
	urls, err := utils.ReadURLsFromFile(urlFile)
	if err != nil {
		return fmt.Errorf("读取URL文件失败: %w", err)
	}
	if len(urls) == 0 {
		return fmt.Errorf("URL文件中没有有效的URL: %s", urlFile)
	}
	urls = NormalizeURLs(urls)

	monitor := crawlers.NewResourceMonitor(appConfig.ResourceMonitorConfig())
	monitor.StartMonitoring(2 * time.Second)
	defer monitor.StopMonitoring()

	bar := utils.NewProgressBar(len(urls), "🚀 批量爬取", os.Stdout)
	batchCrawler := core.NewBatchCrawler(runner, core.BatchOptions{
		Concurrency:     appConfig.Batch.Concurrency,
		Delay:           appConfig.Batch.Delay,
		ContinueOnError: appConfig.Batch.ContinueOnError,
		OnTaskDone: func(core.BatchResult) {
			_ = bar.Add(1)
		},
	}, monitor)

	summary, err := batchCrawler.CrawlBatch(ctx, urls, appConfig.CrawlConfig(""))
	_ = bar.Finish()

	if summary != nil {
		fmt.Println()
		utils.PrintBatchSummary(os.Stdout, summary.Tasks())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			utils.Warn("收到中断信号, 批量爬取已停止")
			return nil
		}
		return fmt.Errorf("批量爬取失败: %w", err)
	}

	utils.Info("✨ 批量爬取任务完成!")
	return nil
}

// runValidateConfig 校验配置并打印生效的头部(已脱敏)
func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")

	safeHeaders, err := headerManager.GetSafeHeaders()
	if err != nil {
		return fmt.Errorf("HTTP头部配置验证失败: %w", err)
	}

	utils.Info("✅ 配置验证通过!")
	fmt.Printf("\n当前有效的HTTP头部 (%d个):\n", len(safeHeaders))

	names := make([]string, 0, len(safeHeaders))
	for name := range safeHeaders {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := table.New("Header", "Value").WithWriter(os.Stdout)
	for _, name := range names {
		tbl.AddRow(name, safeHeaders[name])
	}
	tbl.Print()

	fmt.Printf("\n爬取: 最大页面数=%d, 最大深度=%d, 导航超时=%s, 访问间隔=%s\n",
		appConfig.Crawl.MaxPages, appConfig.Crawl.MaxDepth, appConfig.Crawl.NavTimeout, appConfig.Crawl.PacingDelay)
	fmt.Printf("存储: %s\n", appConfig.Storage.Driver)
	return nil
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径 (默认搜索 ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringVar(&headersConfigFile, "headers-config", "", "HTTP头部配置文件 (默认 configs/headers.yaml)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 爬取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "入口URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")
	rootCmd.Flags().IntVarP(&maxPages, "max-pages", "p", 10, "最多采集的页面数")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", 2, "距入口页的最大跳数 (0-10)")
	rootCmd.Flags().DurationVar(&navTimeout, "timeout", crawlers.DefaultNavigationTimeout, "单个页面导航超时")
	rootCmd.Flags().DurationVar(&pacingDelay, "delay", crawlers.DefaultPacingDelay, "访问子页面前的等待时间")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().StringVar(&browserBin, "browser-bin", "", "浏览器可执行文件路径")
	rootCmd.Flags().StringVar(&controlURL, "control-url", "", "连接已运行浏览器的DevTools地址")

	// 存储参数
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "输出目录")
	rootCmd.Flags().StringVar(&storeDriver, "store", storage.DriverFile, "结果存储 (none|file|mongo)")
	rootCmd.Flags().BoolVar(&compressMarkup, "compress", false, "使用brotli压缩页面源码")
	rootCmd.Flags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB连接地址")

	// 批量处理参数
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 2, "批量模式下同时爬取的站点数")
	rootCmd.Flags().DurationVar(&batchDelay, "batch-delay", 0, "批量模式下相邻站点的派发间隔")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
