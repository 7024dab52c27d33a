package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  UXCrawl 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	fmt.Printf("✅ Go版本: %s\n", runtime.Version())
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 浏览器: 找不到时rod会在首次运行时自动下载
	if path, found := launcher.LookPath(); found {
		fmt.Printf("✅ 浏览器: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到Chrome/Chromium - 首次运行时将自动下载")
		fmt.Println("   也可以通过 --browser-bin 指定, 或用 --control-url 连接已运行的浏览器")
	}

	// MongoDB (可选)
	if uri := os.Getenv("UXCRAWL_STORAGE_MONGO_URI"); uri != "" {
		if err := pingMongo(uri); err != nil {
			fmt.Printf("❌ MongoDB不可用: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ MongoDB连接正常")
		}
	} else {
		fmt.Println("ℹ️  未设置 UXCRAWL_STORAGE_MONGO_URI, 跳过MongoDB检查")
	}

	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")

		fmt.Println("正在下载依赖...")
		cmd := exec.Command("go", "mod", "download")
		if err := cmd.Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	requiredDirs := []string{
		"cmd/uxcrawl",
		"internal/config",
		"internal/core",
		"internal/crawlers",
		"internal/models",
		"internal/storage",
		"internal/utils",
		"configs",
	}

	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'go build -o uxcrawl ./cmd/uxcrawl' 构建项目")
		fmt.Println("  2. 运行 './uxcrawl --help' 查看帮助")
		os.Exit(0)
	} else {
		fmt.Println("❌ 环境验证失败,请解决上述问题。")
		os.Exit(1)
	}
}

// pingMongo 检查MongoDB连通性
func pingMongo(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	return client.Ping(ctx, nil)
}
