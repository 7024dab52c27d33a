package models

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderConfig headers.yaml的结构
type HeaderConfig struct {
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// CliHeaders 命令行 -H 传入的头部, 每项格式为 "Name: Value"
type CliHeaders []string

// Parse 解析为http.Header, 同名头部以后出现者为准
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header)
	for i, s := range ch {
		name, value, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 缺少冒号分隔符,应为 'Name: Value'", i+1)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 头部名称不能为空", i+1)
		}
		result.Set(name, strings.TrimSpace(value))
	}
	return result, nil
}

// HeaderProvider 为渲染器提供请求头部
// 返回的头部已按 默认 < 配置文件 < 命令行 的优先级合并
type HeaderProvider interface {
	GetHeaders() (http.Header, error)
}
