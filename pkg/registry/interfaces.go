package registry

// RegistryItem 定义注册表项的基本接口
type RegistryItem interface {
	// ID 返回注册表项的唯一标识符
	ID() string
	// Type 返回注册表项的类型
	Type() string
}

// Registry 定义泛型注册表接口，List 按注册顺序返回
type Registry[T RegistryItem] interface {
	// Register 注册新项目，ID 已存在时返回错误
	Register(item T) error
	// Get 根据ID获取项目
	Get(id string) (T, bool)
	// List 按注册顺序列出所有项目
	List() []T
	// IDs 按注册顺序列出所有ID
	IDs() []string
	// Remove 移除指定ID的项目
	Remove(id string) bool
	// Clear 清空注册表
	Clear()
	// GetByType 根据类型获取项目
	GetByType(itemType string) []T
	// Contains 检查是否存在指定ID
	Contains(id string) bool
	// Update 替换已存在的项目，保持原有顺序
	Update(item T) bool
	// Len 返回项目数量
	Len() int
}
