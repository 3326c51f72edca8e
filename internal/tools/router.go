package tools

import (
	"context"
	"strings"
	"sync"

	"design-ai/internal/pkg/errors"
)

type route struct {
	prefix   string
	executor Executor
}

// Router 按工具名前缀把调用分发给不同的执行器，最长前缀优先，空前缀兜底
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// NewRouter 创建路由
func NewRouter() *Router {
	return &Router{}
}

// Handle 为前缀注册执行器，相同前缀覆盖
func (r *Router) Handle(prefix string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.routes {
		if r.routes[i].prefix == prefix {
			r.routes[i].executor = executor
			return
		}
	}
	r.routes = append(r.routes, route{prefix: prefix, executor: executor})
}

// Execute 实现 Executor
func (r *Router) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	var (
		best  Executor
		bestN = -1
	)
	for _, rt := range r.routes {
		if strings.HasPrefix(name, rt.prefix) && len(rt.prefix) > bestN {
			best, bestN = rt.executor, len(rt.prefix)
		}
	}
	r.mu.RUnlock()

	if best == nil {
		return nil, errors.NewErrorWithDetails(errors.ErrCodeToolNotFound, "没有可处理该工具的执行器", name)
	}
	return best.Execute(ctx, name, args)
}
