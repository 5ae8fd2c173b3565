// Package paths 应用目录约定
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName 应用目录名
const AppName = "jcp-selector"

// GetDataDir 获取应用数据目录
func GetDataDir() string {
	userConfigDir, err := os.UserConfigDir()
	if err != nil || userConfigDir == "" {
		return filepath.Join(".", "data")
	}
	return filepath.Join(userConfigDir, AppName)
}

// ConfigSearchPaths 配置文件搜索目录，靠前的优先
func ConfigSearchPaths() []string {
	return []string{".", filepath.Join(".", "config"), GetDataDir()}
}

// ExpandHome 展开以 ~ 开头的路径，相对路径保持不变
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
