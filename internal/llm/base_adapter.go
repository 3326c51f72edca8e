package llm

import (
	"sync"
	"time"

	"design-ai/internal/util"
)

// BaseAdapter 基础适配器实现，提供指标、错误映射等通用功能
type BaseAdapter struct {
	info        AdapterInfo
	metrics     AdapterMetrics
	mu          sync.RWMutex
	errorMapper ErrorMapper
}

// NewBaseAdapter 创建新的基础适配器
func NewBaseAdapter(info AdapterInfo) *BaseAdapter {
	return &BaseAdapter{
		info:        info,
		errorMapper: CreateErrorMapperForProvider(info.Type),
	}
}

func (b *BaseAdapter) Name() string {
	return b.info.Name
}

func (b *BaseAdapter) Type() string {
	return b.info.Type
}

func (b *BaseAdapter) Capabilities() Capabilities {
	return b.info.Capabilities
}

// GetAdapterInfo 获取适配器信息
func (b *BaseAdapter) GetAdapterInfo() AdapterInfo {
	return b.info
}

// UpdateMetrics 更新性能指标
func (b *BaseAdapter) UpdateMetrics(responseTime int64, success bool, usage Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.RequestCount++
	b.metrics.LastRequestTime = time.Now().Unix()
	b.metrics.InputTokens += int64(usage.InputTokens)
	b.metrics.OutputTokens += int64(usage.OutputTokens)

	if !success {
		b.metrics.ErrorCount++
	}

	// 增量平均：avg_n = avg_{n-1} + (x_n - avg_{n-1}) / n
	n := b.metrics.RequestCount
	if n == 1 {
		b.metrics.AverageResponseTime = responseTime
	} else {
		diff := responseTime - b.metrics.AverageResponseTime
		b.metrics.AverageResponseTime += diff / n
	}
}

// GetMetrics 获取性能指标
func (b *BaseAdapter) GetMetrics() AdapterMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// SetErrorMapper 设置错误映射器
func (b *BaseAdapter) SetErrorMapper(mapper ErrorMapper) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorMapper = mapper
}

// MapError 映射错误
func (b *BaseAdapter) MapError(originalError error) error {
	b.mu.RLock()
	mapper := b.errorMapper
	b.mu.RUnlock()

	if mapper != nil {
		return mapper.MapError(originalError)
	}
	return originalError
}

// RecordError 记录最近一次错误
func (b *BaseAdapter) RecordError(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	b.metrics.LastError = err.Error()
	b.mu.Unlock()
}

// finishRequest 请求结束时统一记录指标与日志，返回映射后的错误
func (b *BaseAdapter) finishRequest(op string, start time.Time, usage Usage, err error) error {
	elapsed := time.Since(start).Milliseconds()
	b.UpdateMetrics(elapsed, err == nil, usage)

	if err != nil {
		err = b.MapError(err)
		b.RecordError(err)
		util.LogErrorWithFields(err, op, map[string]any{
			"provider":   b.info.Name,
			"elapsed_ms": elapsed,
			"adapter":    b.info.Type,
			"model":      b.info.Model,
			"operation":  op,
		})
		return err
	}

	util.Debugw("模型请求完成", map[string]any{
		"provider":      b.info.Name,
		"operation":     op,
		"elapsed_ms":    elapsed,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	})
	return nil
}
