package host

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"design-ai/internal/aicontext"
	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// NodeSpec 场景文件中的节点
type NodeSpec struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name,omitempty"`
	Type     string         `yaml:"type"`
	Bounds   aicontext.Rect `yaml:"bounds"`
	Children []*NodeSpec    `yaml:"children,omitempty"`
}

// documentFile 场景文件结构
type documentFile struct {
	Name       string             `yaml:"name"`
	ActiveTool string             `yaml:"active_tool,omitempty"`
	Preview    string             `yaml:"preview,omitempty"`
	Viewport   aicontext.Viewport `yaml:"viewport"`
	Selection  []string           `yaml:"selection,omitempty"`
	Nodes      []*NodeSpec        `yaml:"nodes"`
}

// Document 基于 YAML 文件的演示画布，实现 aicontext.HostState
type Document struct {
	mu       sync.RWMutex
	path     string
	autoSave bool
	file     documentFile

	index  map[string]*NodeSpec
	parent map[string]*NodeSpec
}

// NewDocument 创建空白画布
func NewDocument(name string) *Document {
	d := &Document{file: documentFile{
		Name: name,
		Viewport: aicontext.Viewport{
			Zoom:         1,
			Visible:      aicontext.Rect{Width: 1280, Height: 800},
			CanvasWidth:  1280,
			CanvasHeight: 800,
		},
		ActiveTool: "select",
	}}
	d.reindex()
	return d
}

// LoadDocument 读取场景文件
func LoadDocument(path string) (*Document, error) {
	path = util.ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapErrorWithDetails(errors.ErrCodeConfigLoadFailed, "读取场景文件失败", err, path)
	}
	d, err := ParseDocument(data)
	if err != nil {
		return nil, errors.WrapErrorWithDetails(errors.GetErrorCode(err), "解析场景文件失败", err, path)
	}
	d.path = path
	return d, nil
}

// ParseDocument 解析场景内容
func ParseDocument(data []byte) (*Document, error) {
	var file documentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapError(errors.ErrCodeConfigParseFailed, "场景格式错误", err)
	}
	if file.Viewport.Zoom <= 0 {
		file.Viewport.Zoom = 1
	}

	d := &Document{file: file}
	if err := d.reindex(); err != nil {
		return nil, err
	}
	d.file.Selection = slices.DeleteFunc(d.file.Selection, func(id string) bool {
		return d.index[id] == nil
	})
	return d, nil
}

// reindex 重建 id 索引，发现重复 id 时报错
func (d *Document) reindex() error {
	d.index = make(map[string]*NodeSpec)
	d.parent = make(map[string]*NodeSpec)

	var walk func(parent *NodeSpec, nodes []*NodeSpec) error
	walk = func(parent *NodeSpec, nodes []*NodeSpec) error {
		for _, n := range nodes {
			if n.ID == "" {
				return errors.NewError(errors.ErrCodeConfigInvalid, "节点缺少 id")
			}
			if _, dup := d.index[n.ID]; dup {
				return errors.NewErrorWithDetails(errors.ErrCodeConfigInvalid, "节点 id 重复", n.ID)
			}
			d.index[n.ID] = n
			if parent != nil {
				d.parent[n.ID] = parent
			}
			if err := walk(n, n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(nil, d.file.Nodes)
}

// SetAutoSave 修改后自动写回文件
func (d *Document) SetAutoSave(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoSave = enabled
}

// Path 场景文件路径，内存画布为空
func (d *Document) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

// Name 画布名称
func (d *Document) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.file.Name
}

// Save 写回文件
func (d *Document) Save() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.saveLocked()
}

// SaveAs 写入指定路径，之后的保存使用该路径
func (d *Document) SaveAs(path string) error {
	d.mu.Lock()
	d.path = util.ExpandPath(path)
	d.mu.Unlock()
	return d.Save()
}

func (d *Document) saveLocked() error {
	if d.path == "" {
		return errors.NewError(errors.ErrCodeInvalidParam, "画布没有关联的文件")
	}
	data, err := yaml.Marshal(&d.file)
	if err != nil {
		return errors.WrapError(errors.ErrCodeInternalErr, "序列化场景失败", err)
	}
	if err := os.WriteFile(d.path, data, 0o644); err != nil {
		return errors.WrapErrorWithDetails(errors.ErrCodeInternalErr, "写入场景文件失败", err, d.path)
	}
	return nil
}

// mutate 在写锁内修改画布，成功且开启自动保存时写回文件
func (d *Document) mutate(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	if d.autoSave && d.path != "" {
		if err := d.saveLocked(); err != nil {
			util.LogError(err, "自动保存场景失败")
		}
	}
	return nil
}

func (d *Document) Viewport() aicontext.Viewport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.file.Viewport
}

func (d *Document) Selection() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.file.Selection)
}

func (d *Document) Node(id string) (aicontext.Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.index[id]
	if !ok {
		return aicontext.Node{}, false
	}
	return toNode(n), true
}

func (d *Document) RootNodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return childIDs(d.file.Nodes)
}

func (d *Document) ActiveTool() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.file.ActiveTool
}

// Screenshot 读取配置的预览图，未配置时返回 nil
func (d *Document) Screenshot(ctx context.Context) (*llm.ImageData, error) {
	d.mu.RLock()
	preview, base := d.file.Preview, d.path
	d.mu.RUnlock()

	if preview == "" {
		return nil, nil
	}
	if !filepath.IsAbs(preview) && base != "" {
		preview = filepath.Join(filepath.Dir(base), preview)
	}
	data, err := os.ReadFile(preview)
	if err != nil {
		return nil, errors.WrapErrorWithDetails(errors.ErrCodeNotFound, "读取预览图失败", err, preview)
	}
	return &llm.ImageData{
		MediaType: http.DetectContentType(data),
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func toNode(n *NodeSpec) aicontext.Node {
	return aicontext.Node{
		ID:       n.ID,
		Name:     n.Name,
		Type:     n.Type,
		Bounds:   n.Bounds,
		Children: childIDs(n.Children),
	}
}

func childIDs(nodes []*NodeSpec) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func (d *Document) lookup(id string) (*NodeSpec, error) {
	n, ok := d.index[id]
	if !ok {
		return nil, errors.NewErrorWithDetails(errors.ErrCodeNotFound, "节点不存在", id)
	}
	return n, nil
}

// siblings 返回节点所在的子节点列表
func (d *Document) siblings(id string) *[]*NodeSpec {
	if p, ok := d.parent[id]; ok {
		return &p.Children
	}
	return &d.file.Nodes
}

// CreateRectangle 创建矩形，parentID 为空时放在顶层
func (d *Document) CreateRectangle(name string, bounds aicontext.Rect, parentID string) (string, error) {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return "", errors.NewError(errors.ErrCodeInvalidParam, "矩形的宽高必须为正数")
	}
	id := util.NewID("rect")
	err := d.mutate(func() error {
		node := &NodeSpec{ID: id, Name: name, Type: "rectangle", Bounds: bounds}
		if parentID == "" {
			d.file.Nodes = append(d.file.Nodes, node)
		} else {
			parent, err := d.lookup(parentID)
			if err != nil {
				return err
			}
			parent.Children = append(parent.Children, node)
			d.parent[id] = parent
		}
		d.index[id] = node
		return nil
	})
	return id, err
}

// MoveNode 把节点移动到 (x, y)，子节点随之移动
func (d *Document) MoveNode(id string, x, y float64) error {
	return d.mutate(func() error {
		n, err := d.lookup(id)
		if err != nil {
			return err
		}
		translate(n, x-n.Bounds.X, y-n.Bounds.Y)
		return nil
	})
}

func translate(n *NodeSpec, dx, dy float64) {
	n.Bounds.X += dx
	n.Bounds.Y += dy
	for _, c := range n.Children {
		translate(c, dx, dy)
	}
}

// DeleteNode 删除节点及其子树
func (d *Document) DeleteNode(id string) (int, error) {
	removed := 0
	err := d.mutate(func() error {
		n, err := d.lookup(id)
		if err != nil {
			return err
		}
		list := d.siblings(id)
		*list = slices.DeleteFunc(*list, func(c *NodeSpec) bool { return c == n })

		var drop func(*NodeSpec)
		drop = func(c *NodeSpec) {
			delete(d.index, c.ID)
			delete(d.parent, c.ID)
			removed++
			for _, child := range c.Children {
				drop(child)
			}
		}
		drop(n)
		d.file.Selection = slices.DeleteFunc(d.file.Selection, func(s string) bool {
			return d.index[s] == nil
		})
		return nil
	})
	return removed, err
}

// SelectNodes 替换当前选中，空列表表示清空
func (d *Document) SelectNodes(ids []string) error {
	return d.mutate(func() error {
		for _, id := range ids {
			if _, err := d.lookup(id); err != nil {
				return err
			}
		}
		d.file.Selection = slices.Compact(slices.Clone(ids))
		return nil
	})
}

// RenameNode 重命名节点
func (d *Document) RenameNode(id, name string) error {
	return d.mutate(func() error {
		n, err := d.lookup(id)
		if err != nil {
			return err
		}
		n.Name = name
		return nil
	})
}

// GroupNodes 将同一父节点下的节点编组，返回新编组的 id
func (d *Document) GroupNodes(ids []string, name string) (string, error) {
	if len(ids) < 2 {
		return "", errors.NewError(errors.ErrCodeInvalidParam, "至少需要两个节点才能编组")
	}
	groupID := util.NewID("group")
	err := d.mutate(func() error {
		members := make([]*NodeSpec, 0, len(ids))
		for _, id := range ids {
			n, err := d.lookup(id)
			if err != nil {
				return err
			}
			if d.parent[id] != d.parent[ids[0]] {
				return errors.NewErrorWithDetails(errors.ErrCodeInvalidParam, "只能编组同一父节点下的节点", id)
			}
			if !slices.Contains(members, n) {
				members = append(members, n)
			}
		}
		if len(members) < 2 {
			return errors.NewError(errors.ErrCodeInvalidParam, "至少需要两个节点才能编组")
		}

		origParent, hasParent := d.parent[ids[0]]
		list := d.siblings(ids[0])
		original := *list
		pos := slices.IndexFunc(original, func(c *NodeSpec) bool { return slices.Contains(members, c) })
		group := &NodeSpec{ID: groupID, Name: name, Type: "group", Bounds: union(members)}

		remaining := make([]*NodeSpec, 0, len(original))
		for _, c := range original {
			if slices.Contains(members, c) {
				// 保持原有的层叠顺序
				group.Children = append(group.Children, c)
				d.parent[c.ID] = group
				continue
			}
			remaining = append(remaining, c)
		}
		*list = slices.Insert(remaining, pos, group)

		if hasParent {
			d.parent[groupID] = origParent
		}
		d.index[groupID] = group
		return nil
	})
	return groupID, err
}

// LookAt 将视口中心移动到 (x, y)
func (d *Document) LookAt(x, y float64) error {
	if math.IsNaN(x) || math.IsNaN(y) {
		return errors.NewError(errors.ErrCodeInvalidParam, "坐标无效")
	}
	return d.mutate(func() error {
		vp := &d.file.Viewport
		vp.Visible.X = x - vp.Visible.Width/2
		vp.Visible.Y = y - vp.Visible.Height/2
		vp.OffsetX = -vp.Visible.X * vp.Zoom
		vp.OffsetY = -vp.Visible.Y * vp.Zoom
		return nil
	})
}

func union(nodes []*NodeSpec) aicontext.Rect {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, n := range nodes {
		b := n.Bounds
		minX = math.Min(minX, b.X)
		minY = math.Min(minY, b.Y)
		maxX = math.Max(maxX, b.X+b.Width)
		maxY = math.Max(maxY, b.Y+b.Height)
	}
	return aicontext.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// String 画布摘要
func (d *Document) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("%s（%d 个节点）", d.file.Name, len(d.index))
}
