package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[Level]string{
	DEBUG: "\033[36m", // cyan
	INFO:  "\033[32m", // green
	WARN:  "\033[33m", // yellow
	ERROR: "\033[31m", // red
}

const resetColor = "\033[0m"

// String 返回级别名称
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int32(l))
}

// ParseLevel 解析配置中的日志级别，大小写不敏感
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// 全局日志级别，在输出时读取，包级 logger 创建后仍可调整
var globalLevel atomic.Int32

var (
	outMu  sync.Mutex
	out    io.Writer = os.Stderr
	colors           = true
)

func init() {
	globalLevel.Store(int32(INFO))
}

// SetGlobalLevel 设置全局日志级别
func SetGlobalLevel(level Level) {
	globalLevel.Store(int32(level))
}

// GlobalLevel 返回当前全局日志级别
func GlobalLevel() Level {
	return Level(globalLevel.Load())
}

// SetOutput 替换日志输出目标，非终端输出时关闭颜色
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
	colors = w == os.Stderr || w == os.Stdout
}

// Logger 日志记录器
type Logger struct {
	module string
}

// New 创建新的日志记录器
func New(module string) *Logger {
	return &Logger{module: module}
}

// Module 返回模块名
func (l *Logger) Module() string {
	return l.module
}

// log 内部日志方法
func (l *Logger) log(level Level, format string, args ...any) {
	if level < GlobalLevel() {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	outMu.Lock()
	defer outMu.Unlock()
	if colors {
		fmt.Fprintf(out, "%s%s%s [%s] %s: %s\n",
			levelColors[level], level, resetColor,
			timestamp, l.module, msg)
		return
	}
	fmt.Fprintf(out, "%s [%s] %s: %s\n", level, timestamp, l.module, msg)
}

// Debug 调试日志
func (l *Logger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Info 信息日志
func (l *Logger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warn 警告日志
func (l *Logger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Error 错误日志
func (l *Logger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// WithError 带错误的日志
func (l *Logger) WithError(err error) *Logger {
	if err != nil {
		l.Error("error: %v", err)
	}
	return l
}
