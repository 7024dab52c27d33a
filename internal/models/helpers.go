package models

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedScheme = errors.New("只支持http/https入口")
	ErrMissingHost       = errors.New("入口URL缺少主机名")
)

// ValidateURL 入口URL必须是带主机名的http/https绝对地址
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("入口URL无法解析: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	case u.Host == "":
		return ErrMissingHost
	}
	return nil
}

func newTaskID() string {
	return uuid.NewString()
}
