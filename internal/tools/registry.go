package tools

import (
	"encoding/json"

	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
	"design-ai/pkg/registry"
)

// catalogItem 实现 registry.RegistryItem
type catalogItem struct {
	def Definition
}

func (i *catalogItem) ID() string   { return i.def.Name }
func (i *catalogItem) Type() string { return string(i.def.Tier) }

// Catalog 宿主工具目录，按注册顺序保存
type Catalog struct {
	items registry.Registry[*catalogItem]
}

// NewCatalog 创建空目录
func NewCatalog() *Catalog {
	return &Catalog{items: registry.NewRegistry[*catalogItem]()}
}

// Register 添加工具定义
func (c *Catalog) Register(def Definition) error {
	if def.Name == "" {
		return errors.NewError(errors.ErrCodeInvalidParam, "工具名称不能为空")
	}
	if def.Tier == "" {
		def.Tier = TierBasic
	}
	if def.Tier.rank() < 0 {
		return errors.NewErrorWithDetails(errors.ErrCodeInvalidParam, "未知的工具层级", string(def.Tier))
	}
	if def.Parameters == nil {
		def.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	if err := c.items.Register(&catalogItem{def: def}); err != nil {
		return errors.NewErrorWithDetails(errors.ErrCodeToolExists, "工具已存在", def.Name)
	}
	util.Debugw("工具注册成功", map[string]any{
		"tool_name": def.Name,
		"tier":      def.Tier,
	})
	return nil
}

// Remove 移除工具定义
func (c *Catalog) Remove(name string) bool {
	return c.items.Remove(name)
}

// Get 按名称获取定义
func (c *Catalog) Get(name string) (Definition, bool) {
	item, ok := c.items.Get(name)
	if !ok {
		return Definition{}, false
	}
	return item.def, true
}

// Len 工具数量
func (c *Catalog) Len() int {
	return c.items.Len()
}

// Definitions 返回层级不高于 tier 的定义，保持注册顺序
func (c *Catalog) Definitions(tier Tier) []Definition {
	var out []Definition
	for _, item := range c.items.List() {
		if tier.Includes(item.def.Tier) {
			out = append(out, item.def)
		}
	}
	return out
}

// ToolDefinitions 转为发送给模型的工具定义
func (c *Catalog) ToolDefinitions(tier Tier) []llm.ToolDefinition {
	defs := c.Definitions(tier)
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// Serialize 按层级过滤后序列化为 JSON，相同目录输出相同
func (c *Catalog) Serialize(tier Tier) (string, error) {
	defs := c.Definitions(tier)
	if defs == nil {
		defs = []Definition{}
	}
	// map 键由 encoding/json 排序输出
	data, err := json.Marshal(defs)
	if err != nil {
		return "", errors.WrapError(errors.ErrCodeInternalErr, "序列化工具目录失败", err)
	}
	return string(data), nil
}
