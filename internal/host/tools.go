package host

import (
	"context"
	"fmt"
	"strings"

	"design-ai/internal/aicontext"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func idsProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func requireString(args map[string]any, key string) (string, error) {
	s, ok := tools.ArgString(args, key)
	if !ok {
		return "", errors.NewErrorWithDetails(errors.ErrCodeInvalidParam, "缺少参数", key)
	}
	return s, nil
}

func requireFloat(args map[string]any, key string) (float64, error) {
	f, ok := tools.ArgFloat(args, key)
	if !ok {
		return 0, errors.NewErrorWithDetails(errors.ErrCodeInvalidParam, "缺少数值参数", key)
	}
	return f, nil
}

// DesignTools 画布编辑工具集
func DesignTools(doc *Document) *tools.Toolset {
	set := tools.NewToolset()

	set.RegisterFunction("create_rectangle", "在画布上创建矩形，坐标为画布像素", tools.TierBasic,
		objectSchema(map[string]any{
			"x":         numberProp("左上角 x"),
			"y":         numberProp("左上角 y"),
			"width":     numberProp("宽度"),
			"height":    numberProp("高度"),
			"name":      stringProp("节点名称"),
			"parent_id": stringProp("父节点 id，留空放在顶层"),
		}, "x", "y", "width", "height"),
		func(ctx context.Context, args map[string]any) (string, error) {
			var bounds aicontext.Rect
			var err error
			if bounds.X, err = requireFloat(args, "x"); err != nil {
				return "", err
			}
			if bounds.Y, err = requireFloat(args, "y"); err != nil {
				return "", err
			}
			if bounds.Width, err = requireFloat(args, "width"); err != nil {
				return "", err
			}
			if bounds.Height, err = requireFloat(args, "height"); err != nil {
				return "", err
			}
			name, _ := tools.ArgString(args, "name")
			parentID, _ := tools.ArgString(args, "parent_id")

			id, err := doc.CreateRectangle(name, bounds, parentID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("已创建矩形 %s", id), nil
		})

	set.RegisterFunction("move_node", "把节点左上角移动到指定位置，子节点随之移动", tools.TierBasic,
		objectSchema(map[string]any{
			"id": stringProp("节点 id"),
			"x":  numberProp("目标 x"),
			"y":  numberProp("目标 y"),
		}, "id", "x", "y"),
		func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return "", err
			}
			x, err := requireFloat(args, "x")
			if err != nil {
				return "", err
			}
			y, err := requireFloat(args, "y")
			if err != nil {
				return "", err
			}
			if err := doc.MoveNode(id, x, y); err != nil {
				return "", err
			}
			return fmt.Sprintf("已将 %s 移动到 (%.0f, %.0f)", id, x, y), nil
		})

	set.RegisterFunction("delete_node", "删除节点及其全部子节点", tools.TierStandard,
		objectSchema(map[string]any{"id": stringProp("节点 id")}, "id"),
		func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return "", err
			}
			n, err := doc.DeleteNode(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("已删除 %d 个节点", n), nil
		})

	set.RegisterFunction("select_nodes", "替换当前选中的节点，传空数组清空选中", tools.TierBasic,
		objectSchema(map[string]any{"ids": idsProp("要选中的节点 id")}, "ids"),
		func(ctx context.Context, args map[string]any) (string, error) {
			ids := tools.ArgStrings(args, "ids")
			if err := doc.SelectNodes(ids); err != nil {
				return "", err
			}
			if len(ids) == 0 {
				return "已清空选中", nil
			}
			return "已选中 " + strings.Join(ids, ", "), nil
		})

	set.RegisterFunction("rename_node", "重命名节点", tools.TierStandard,
		objectSchema(map[string]any{
			"id":   stringProp("节点 id"),
			"name": stringProp("新名称"),
		}, "id", "name"),
		func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return "", err
			}
			name, err := requireString(args, "name")
			if err != nil {
				return "", err
			}
			if err := doc.RenameNode(id, name); err != nil {
				return "", err
			}
			return fmt.Sprintf("已将 %s 重命名为「%s」", id, name), nil
		})

	set.RegisterFunction(tools.CursorToolName, "把视口中心移动到指定坐标，让用户看到相关区域", tools.TierBasic,
		objectSchema(map[string]any{
			"x": numberProp("画布 x"),
			"y": numberProp("画布 y"),
		}, "x", "y"),
		func(ctx context.Context, args map[string]any) (string, error) {
			x, err := requireFloat(args, "x")
			if err != nil {
				return "", err
			}
			y, err := requireFloat(args, "y")
			if err != nil {
				return "", err
			}
			if err := doc.LookAt(x, y); err != nil {
				return "", err
			}
			return fmt.Sprintf("视口已移动到 (%.0f, %.0f)", x, y), nil
		})

	set.RegisterFunction("group_nodes", "将同一父节点下的多个节点编组", tools.TierAdvanced,
		objectSchema(map[string]any{
			"ids":  idsProp("要编组的节点 id，至少两个"),
			"name": stringProp("编组名称"),
		}, "ids"),
		func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := tools.ArgString(args, "name")
			id, err := doc.GroupNodes(tools.ArgStrings(args, "ids"), name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("已创建编组 %s", id), nil
		})

	return set
}

// RegisterDesignTools 将画布工具登记到执行器和目录
func RegisterDesignTools(doc *Document, executor *tools.LocalExecutor, catalog *tools.Catalog) error {
	return DesignTools(doc).RegisterAll(executor, catalog)
}
