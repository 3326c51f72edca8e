package registry

import (
	"fmt"
	"sort"
	"sync"
)

// NewRegistry 创建一个新的注册表
func NewRegistry[T RegistryItem]() Registry[T] {
	return NewBaseRegistry[T]()
}

// FactoryRegistry 按类型名保存构造函数
type FactoryRegistry[C any, T any] struct {
	mu        sync.RWMutex
	factories map[string]func(C) (T, error)
}

// NewFactoryRegistry 创建构造函数注册表
func NewFactoryRegistry[C any, T any]() *FactoryRegistry[C, T] {
	return &FactoryRegistry[C, T]{
		factories: make(map[string]func(C) (T, error)),
	}
}

// Register 注册构造函数，同名覆盖
func (f *FactoryRegistry[C, T]) Register(kind string, factory func(C) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[kind] = factory
}

// Create 使用指定类型的构造函数创建实例
func (f *FactoryRegistry[C, T]) Create(kind string, cfg C) (T, error) {
	f.mu.RLock()
	factory, ok := f.factories[kind]
	f.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("registry: no factory for type %q", kind)
	}
	return factory(cfg)
}

// Has 检查类型是否已注册
func (f *FactoryRegistry[C, T]) Has(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.factories[kind]
	return ok
}

// Kinds 返回已注册的类型，按字母排序
func (f *FactoryRegistry[C, T]) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]string, 0, len(f.factories))
	for k := range f.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
