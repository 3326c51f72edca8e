package util

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"design-ai/internal/pkg/errors"
)

// LogLevel 日志级别
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var slogLevels = map[LogLevel]slog.Level{
	LogLevelDebug: slog.LevelDebug,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelError: slog.LevelError,
}

// Logger 日志器，字段以 map 形式传入
type Logger struct {
	level  *slog.LevelVar
	format string // "json" 或 "text"
	closer io.Closer
	logger *slog.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewLogger(LogLevelInfo, "text", os.Stderr)
)

// NewLogger 创建新的日志器
func NewLogger(level LogLevel, format string, output io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(slogLevels[level])

	opts := &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		format = "text"
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		level:  lv,
		format: format,
		logger: slog.New(handler),
	}
}

// ParseLogLevel 从字符串解析日志级别
func ParseLogLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// SetLevel 设置日志级别
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(slogLevels[level])
}

// Format 返回输出格式
func (l *Logger) Format() string {
	return l.format
}

// Slog 返回底层 slog.Logger
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func (l *Logger) log(level slog.Level, message string, fields map[string]any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.LogAttrs(context.Background(), level, message, fieldsToAttrs(fields)...)
}

// 字段按键排序，保证输出稳定
func fieldsToAttrs(fields map[string]any) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}

func (l *Logger) Debugw(message string, fields map[string]any) {
	l.log(slog.LevelDebug, message, fields)
}

func (l *Logger) Infow(message string, fields map[string]any) {
	l.log(slog.LevelInfo, message, fields)
}

func (l *Logger) Warnw(message string, fields map[string]any) {
	l.log(slog.LevelWarn, message, fields)
}

func (l *Logger) Errorw(message string, fields map[string]any) {
	l.log(slog.LevelError, message, fields)
}

// LogErrorWithFields 记录错误对象，AppError 会附带错误代码与详情
func (l *Logger) LogErrorWithFields(err error, context string, extraFields map[string]any) {
	if err == nil {
		return
	}

	fields := map[string]any{
		"context": context,
		"error":   err.Error(),
	}
	for key, value := range extraFields {
		fields[key] = value
	}

	if appErr, ok := errors.AsAppError(err); ok {
		fields["error_code"] = appErr.Code
		if appErr.Details != "" {
			fields["details"] = appErr.Details
		}
		if appErr.Status != 0 {
			fields["status"] = appErr.Status
		}
	}

	l.log(slog.LevelError, "发生错误", fields)
}

// Close 关闭文件输出
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Default 返回全局日志器
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault 替换全局日志器
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func Debugw(message string, fields map[string]any) {
	Default().Debugw(message, fields)
}

func Infow(message string, fields map[string]any) {
	Default().Infow(message, fields)
}

func Warnw(message string, fields map[string]any) {
	Default().Warnw(message, fields)
}

func Errorw(message string, fields map[string]any) {
	Default().Errorw(message, fields)
}

func LogError(err error, context string) {
	Default().LogErrorWithFields(err, context, nil)
}

func LogErrorWithFields(err error, context string, extraFields map[string]any) {
	Default().LogErrorWithFields(err, context, extraFields)
}

// InitLogger 根据配置初始化全局日志器
func InitLogger(level, format, output, file string) error {
	logLevel := ParseLogLevel(level)

	var (
		writer io.Writer
		closer io.Closer
	)

	switch output {
	case "stdout":
		writer = os.Stdout
	case "file":
		if file == "" {
			return errors.NewError(errors.ErrCodeConfigInvalid, "日志输出为文件时必须指定文件路径")
		}
		f, err := os.OpenFile(ExpandPath(file), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.WrapError(errors.ErrCodeConfigInvalid, "无法打开日志文件", err)
		}
		writer = f
		closer = f
	default:
		// TUI 占用 stdout，默认写 stderr
		writer = os.Stderr
	}

	l := NewLogger(logLevel, format, writer)
	l.closer = closer
	SetDefault(l)
	return nil
}
