// Package provider 管理已注册的模型适配器：当前活动适配器、按需连接与失败回退。
package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"design-ai/internal/config"
	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
	"design-ai/pkg/registry"
)

// RegisterOptions 注册选项
type RegisterOptions struct {
	// AutoConnect 注册后立即尝试连接，失败只记录日志
	AutoConnect bool
}

// Status 单个适配器的运行状态
type Status struct {
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	Model        string             `json:"model"`
	Active       bool               `json:"active"`
	Connected    bool               `json:"connected"`
	Capabilities llm.Capabilities   `json:"capabilities"`
	Metrics      llm.AdapterMetrics `json:"metrics"`
}

// entry 注册表项，实现 registry.RegistryItem
type entry struct {
	provider llm.Provider
}

func (e *entry) ID() string   { return e.provider.Name() }
func (e *entry) Type() string { return e.provider.Type() }

// Registry 适配器注册表
type Registry struct {
	items         registry.Registry[*entry]
	defaultName   string
	fallbackChain []string

	mu        sync.RWMutex
	active    string
	connected map[string]bool
	connects  singleflight.Group
}

// NewRegistry 创建注册表。defaultName 为配置中的默认适配器，fallbackChain 为默认回退顺序
func NewRegistry(defaultName string, fallbackChain []string) *Registry {
	return &Registry{
		items:         registry.NewRegistry[*entry](),
		defaultName:   defaultName,
		fallbackChain: append([]string(nil), fallbackChain...),
		connected:     make(map[string]bool),
	}
}

// NewRegistryFromConfig 按配置创建注册表并注册所有适配器
func NewRegistryFromConfig(ctx context.Context, cfg *config.AppConfig) (*Registry, error) {
	r := NewRegistry(cfg.AI.DefaultProvider, cfg.AI.FallbackChain)
	for _, name := range cfg.ProviderNames() {
		p, err := llm.NewProviderFromConfig(cfg, name)
		if err != nil {
			return nil, errors.WrapErrorWithDetails(errors.ErrCodeClientCreationFailed, "创建适配器失败", err, name)
		}
		if err := r.Register(ctx, p, RegisterOptions{AutoConnect: cfg.AI.AutoConnect}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册适配器。没有活动适配器或名称与默认适配器相同时设为活动
func (r *Registry) Register(ctx context.Context, p llm.Provider, opts RegisterOptions) error {
	if err := r.items.Register(&entry{provider: p}); err != nil {
		return errors.NewErrorWithDetails(errors.ErrCodeProviderExists, "适配器已注册", p.Name())
	}

	r.mu.Lock()
	if r.active == "" || p.Name() == r.defaultName {
		r.active = p.Name()
	}
	active := r.active
	r.mu.Unlock()

	util.Infow("适配器已注册", map[string]any{
		"name":   p.Name(),
		"type":   p.Type(),
		"active": active == p.Name(),
	})

	if opts.AutoConnect {
		if err := r.Connect(ctx, p.Name()); err != nil {
			util.Warnw("适配器自动连接失败", map[string]any{
				"name":  p.Name(),
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Unregister 移除适配器。被移除的是活动适配器时，按注册顺序提升第一个剩余适配器
func (r *Registry) Unregister(name string) error {
	if !r.items.Remove(name) {
		return errors.NewErrorWithDetails(errors.ErrCodeProviderNotFound, "适配器未注册", name)
	}

	r.mu.Lock()
	delete(r.connected, name)
	if r.active == name {
		r.active = ""
		if ids := r.items.IDs(); len(ids) > 0 {
			r.active = ids[0]
		}
	}
	active := r.active
	r.mu.Unlock()

	util.Infow("适配器已移除", map[string]any{"name": name, "active": active})
	return nil
}

// SetActive 切换活动适配器，名称未注册时保持原状
func (r *Registry) SetActive(name string) error {
	if !r.items.Contains(name) {
		return errors.NewErrorWithDetails(errors.ErrCodeProviderNotFound, "适配器未注册", name)
	}
	r.mu.Lock()
	r.active = name
	r.mu.Unlock()
	return nil
}

// ActiveName 当前活动适配器名称，没有时为空
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Active 当前活动适配器
func (r *Registry) Active() (llm.Provider, error) {
	name := r.ActiveName()
	if name == "" {
		return nil, errors.NewError(errors.ErrCodeNoActiveProvider, "没有活动的适配器")
	}
	return r.Get(name)
}

// Get 按名称获取适配器
func (r *Registry) Get(name string) (llm.Provider, error) {
	e, ok := r.items.Get(name)
	if !ok {
		return nil, errors.NewErrorWithDetails(errors.ErrCodeProviderNotFound, "适配器未注册", name)
	}
	return e.provider, nil
}

// List 按注册顺序列出适配器
func (r *Registry) List() []llm.Provider {
	items := r.items.List()
	out := make([]llm.Provider, 0, len(items))
	for _, e := range items {
		out = append(out, e.provider)
	}
	return out
}

// Connected 是否已成功连接
func (r *Registry) Connected(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected[name]
}

// Status 按注册顺序返回所有适配器状态
func (r *Registry) Status() []Status {
	active := r.ActiveName()
	providers := r.List()
	out := make([]Status, 0, len(providers))
	for _, p := range providers {
		info := p.GetAdapterInfo()
		out = append(out, Status{
			Name:         p.Name(),
			Type:         p.Type(),
			Model:        info.Model,
			Active:       p.Name() == active,
			Connected:    r.Connected(p.Name()),
			Capabilities: p.Capabilities(),
			Metrics:      p.GetMetrics(),
		})
	}
	return out
}

// connectTimeout 单次合并连接的上限，连接不随任一调用方的取消而中断
const connectTimeout = 30 * time.Second

// Connect 连接指定适配器，并发调用合并为一次。
// 调用方取消时只有自己提前返回，共享同一次连接的其他调用方不受影响。
func (r *Registry) Connect(ctx context.Context, name string) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}

	ch := r.connects.DoChan(name, func() (any, error) {
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()

		start := time.Now()
		err := p.Connect(connectCtx)

		r.mu.Lock()
		r.connected[name] = err == nil
		r.mu.Unlock()

		util.Debugw("适配器连接结束", map[string]any{
			"name":       name,
			"ok":         err == nil,
			"elapsed_ms": time.Since(start).Milliseconds(),
		})
		return nil, err
	})

	select {
	case res := <-ch:
		if res.Shared {
			util.Debugw("合并并发连接请求", map[string]any{"name": name})
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureConnected 按需连接，已连接时直接返回
func (r *Registry) ensureConnected(ctx context.Context, name string) error {
	if r.Connected(name) {
		return nil
	}
	return r.Connect(ctx, name)
}

// SendMessage 向活动适配器发送请求，失败时按 fallback 顺序回退。
// fallback 为 nil 时使用配置的回退链；全部失败时返回最初的错误。
func (r *Registry) SendMessage(ctx context.Context, messages []llm.Message, opts llm.SendOptions, fallback []string) (*llm.Response, error) {
	if fallback == nil {
		fallback = r.fallbackChain
	}

	var (
		originalErr error
		failed      string
	)

	if active := r.ActiveName(); active == "" {
		originalErr = errors.NewError(errors.ErrCodeNoActiveProvider, "没有活动的适配器")
	} else {
		resp, err := r.sendVia(ctx, active, messages, opts)
		if err == nil {
			return resp, nil
		}
		originalErr, failed = err, active
	}

	for _, name := range fallback {
		if name == failed || !r.items.Contains(name) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		util.Warnw("活动适配器请求失败，尝试回退", map[string]any{
			"failed":   failed,
			"fallback": name,
			"error":    originalErr.Error(),
		})
		resp, err := r.sendVia(ctx, name, messages, opts)
		if err == nil {
			return resp, nil
		}
		util.Warnw("回退适配器请求失败", map[string]any{
			"fallback": name,
			"error":    err.Error(),
		})
	}

	return nil, originalErr
}

func (r *Registry) sendVia(ctx context.Context, name string, messages []llm.Message, opts llm.SendOptions) (*llm.Response, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := r.ensureConnected(ctx, name); err != nil {
		return nil, err
	}
	resp, err := p.Send(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = name
	}
	return resp, nil
}

// StreamMessage 只使用活动适配器，失败立即返回，不回退
func (r *Registry) StreamMessage(ctx context.Context, messages []llm.Message, opts llm.SendOptions) (llm.Stream, error) {
	p, err := r.Active()
	if err != nil {
		return nil, err
	}
	if err := r.ensureConnected(ctx, p.Name()); err != nil {
		return nil, err
	}
	return p.Stream(ctx, messages, opts)
}
