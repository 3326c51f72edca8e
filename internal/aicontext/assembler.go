package aicontext

import (
	"fmt"
	"strings"

	"design-ai/internal/config"
	"design-ai/internal/llm"
	"design-ai/internal/tools"
	"design-ai/internal/util"
)

const (
	// 状态描述折叠后保留的行数
	collapsedStateLines = 10

	scenePlaceholder          = "（场景大纲已省略）"
	collapsedStateSuffix      = "…（状态描述已截断）"
	statePlaceholder          = "（状态描述已省略）"
	noHostStateDescription    = "（没有可用的画布状态）"
	selectionOverflowTemplate = "……另有 %d 个选中元素未列出"
	sceneOverflowTemplate     = "……另有 %d 个节点未列出"
)

// BuildOptions 单轮上下文组装参数
type BuildOptions struct {
	Capabilities       llm.Capabilities
	Tier               tools.Tier
	Budget             TokenBudget
	Calibration        string
	CustomInstructions string
	ProjectName        string
	IncludeScene       bool
	// MaxSelection 选中摘要的条数上限，0 表示不限
	MaxSelection int
	// MaxSceneNodes 场景大纲的节点上限，0 表示不限
	MaxSceneNodes int
}

// OptionsFromConfig 由配置生成组装参数，能力与校准文本由调用方填入
func OptionsFromConfig(cfg config.ContextConfig) (BuildOptions, error) {
	tier, err := tools.ParseTier(cfg.ToolTier)
	if err != nil {
		return BuildOptions{}, err
	}
	priority := make([]Section, 0, len(cfg.TruncationPriority))
	for _, name := range cfg.TruncationPriority {
		sec, err := ParseSection(name)
		if err != nil {
			return BuildOptions{}, err
		}
		priority = append(priority, sec)
	}
	return BuildOptions{
		Tier: tier,
		Budget: TokenBudget{
			MaxTokens:          cfg.MaxTokens,
			ReserveForResponse: cfg.ReserveForResponse,
			TruncationPriority: priority,
		},
		CustomInstructions: cfg.CustomInstructions,
		ProjectName:        cfg.ProjectName,
		IncludeScene:       cfg.IncludeScene,
		MaxSelection:       cfg.MaxSelection,
		MaxSceneNodes:      cfg.MaxSceneNodes,
	}, nil
}

// sections 组成提示词与状态描述的原始片段
type sections struct {
	base    string
	custom  string
	project string

	state          string
	scene          string
	stateCollapsed bool
}

func (s *sections) prompt() string {
	parts := []string{s.base}
	if s.custom != "" {
		parts = append(parts, "## 自定义指令\n"+s.custom)
	}
	if s.project != "" {
		parts = append(parts, "## 当前项目\n"+s.project)
	}
	return joinNonEmpty(parts, "\n\n")
}

func (s *sections) stateText() string {
	if s.scene == "" {
		return s.state
	}
	return joinNonEmpty([]string{s.state, "场景大纲：\n" + s.scene}, "\n")
}

// Assembler 每轮组装系统提示词、工具目录和状态描述
type Assembler struct {
	state   HostState
	catalog *tools.Catalog
}

// NewAssembler 创建组装器，state 与 catalog 可以为空
func NewAssembler(state HostState, catalog *tools.Catalog) *Assembler {
	return &Assembler{state: state, catalog: catalog}
}

// Build 组装上下文并按预算截断
func (a *Assembler) Build(opts BuildOptions) (*AIContext, error) {
	tier := opts.Tier
	if tier == "" {
		tier = tools.TierAdvanced
	}

	ctx := &AIContext{}
	var defs []tools.Definition
	if opts.Capabilities.FunctionCalling && a.catalog != nil {
		catalog, err := a.catalog.Serialize(tier)
		if err != nil {
			return nil, err
		}
		defs = a.catalog.Definitions(tier)
		ctx.ToolCatalog = catalog
		ctx.Tools = a.catalog.ToolDefinitions(tier)
	}

	ctx.parts = &sections{
		base:    basePrompt(opts, defs),
		custom:  strings.TrimSpace(opts.CustomInstructions),
		project: strings.TrimSpace(opts.ProjectName),
		state:   a.describeState(opts),
	}
	if opts.IncludeScene {
		ctx.parts.scene = a.sceneOutline(opts.MaxSceneNodes)
	}
	ctx.render()

	Truncate(ctx, opts.Budget)
	return ctx, nil
}

func (c *AIContext) render() {
	c.SystemPrompt = c.parts.prompt()
	c.StateDescription = c.parts.stateText()
	c.EstimatedTokens = llm.EstimateTokens(c.ToolCatalog) + c.promptTokens()
}

func (c *AIContext) promptTokens() int {
	return llm.EstimateTokens(c.SystemPrompt) + llm.EstimateTokens(c.StateDescription)
}

// Truncate 按优先级截断直到提示词与状态描述落入预算，工具目录不截断。
// 已满足预算的上下文保持不变
func Truncate(c *AIContext, budget TokenBudget) {
	if c == nil || budget.MaxTokens <= 0 {
		return
	}
	if c.parts == nil {
		c.parts = &sections{base: c.SystemPrompt, state: c.StateDescription, stateCollapsed: true}
	}

	available := budget.MaxTokens - budget.ReserveForResponse - llm.EstimateTokens(c.ToolCatalog)
	if c.promptTokens() <= available {
		return
	}

	for _, step := range budget.priority() {
		if c.promptTokens() <= available {
			break
		}
		if c.applyStep(step) {
			c.markTruncated(step)
			c.render()
		}
	}

	if c.promptTokens() > available && available <= 0 {
		c.parts = &sections{state: statePlaceholder, stateCollapsed: true}
		c.markTruncated(SectionState)
		c.render()
	}

	if c.promptTokens() > available {
		util.Warnw("上下文截断后仍超出预算", map[string]any{
			"available":      available,
			"estimated":      c.promptTokens(),
			"truncated":      c.Truncated,
			"catalog_tokens": llm.EstimateTokens(c.ToolCatalog),
			"max_tokens":     budget.MaxTokens,
			"reserve_tokens": budget.ReserveForResponse,
		})
	} else if len(c.Truncated) > 0 {
		util.Debugw("上下文已按预算截断", map[string]any{
			"truncated": c.Truncated,
			"estimated": c.EstimatedTokens,
		})
	}
}

// applyStep 执行一个截断步骤，没有可截断内容时返回 false
func (c *AIContext) applyStep(step Section) bool {
	p := c.parts
	switch step {
	case SectionScene:
		if p.scene == "" || p.scene == scenePlaceholder {
			return false
		}
		p.scene = scenePlaceholder
	case SectionState:
		if p.stateCollapsed {
			return false
		}
		p.state = collapseLines(p.stateText(), collapsedStateLines)
		p.scene = ""
		p.stateCollapsed = true
	case SectionCustomInstructions:
		if p.custom == "" {
			return false
		}
		p.custom = ""
	default:
		return false
	}
	return true
}

func collapseLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n") + "\n" + collapsedStateSuffix
}

func basePrompt(opts BuildOptions, defs []tools.Definition) string {
	var b strings.Builder
	b.WriteString("你是一个嵌入在设计工具中的 AI 助手，帮助用户查看和编辑画布上的设计元素。\n")
	b.WriteString("请根据下方的画布状态理解用户意图，回答要简洁。")
	if opts.Capabilities.Vision {
		b.WriteString("\n你可以看到用户附带的画布截图。")
	}
	if opts.Capabilities.FunctionCalling {
		b.WriteString("\n需要修改画布时直接调用工具，每次调用后根据结果决定下一步。")
	} else {
		b.WriteString("\n当前模型不支持工具调用，请用文字说明操作步骤。")
	}

	parts := []string{b.String()}
	if cal := strings.TrimSpace(opts.Calibration); cal != "" {
		parts = append(parts, "## 坐标校准\n"+cal)
	}
	if len(defs) > 0 {
		var list strings.Builder
		list.WriteString("## 可用工具\n")
		for i, def := range defs {
			if i > 0 {
				list.WriteString("\n")
			}
			fmt.Fprintf(&list, "- %s: %s", def.Name, def.Description)
		}
		parts = append(parts, list.String())
	}
	return joinNonEmpty(parts, "\n\n")
}

func (a *Assembler) describeState(opts BuildOptions) string {
	if a.state == nil {
		return noHostStateDescription
	}

	var lines []string
	vp := a.state.Viewport()
	v := vp.Visible
	lines = append(lines, fmt.Sprintf("视口：缩放 %.2f，可见区域 (%.0f, %.0f) %.0f×%.0f，画布 %.0f×%.0f",
		vp.Zoom, v.X, v.Y, v.Width, v.Height, vp.CanvasWidth, vp.CanvasHeight))

	selection := a.state.Selection()
	if len(selection) == 0 {
		lines = append(lines, "选中：无")
	} else {
		lines = append(lines, fmt.Sprintf("选中：%d 个元素", len(selection)))
		shown := selection
		if opts.MaxSelection > 0 && len(shown) > opts.MaxSelection {
			shown = shown[:opts.MaxSelection]
		}
		for _, id := range shown {
			lines = append(lines, "- "+a.nodeSummary(id))
		}
		if hidden := len(selection) - len(shown); hidden > 0 {
			lines = append(lines, fmt.Sprintf(selectionOverflowTemplate, hidden))
		}
	}

	if tool := a.state.ActiveTool(); tool != "" {
		lines = append(lines, "当前工具："+tool)
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) nodeSummary(id string) string {
	node, ok := a.state.Node(id)
	if !ok {
		return fmt.Sprintf("%s（未找到）", id)
	}
	b := node.Bounds
	name := node.Name
	if name == "" {
		name = node.ID
	}
	return fmt.Sprintf("%s「%s」[%s] 位置 (%.0f, %.0f) 尺寸 %.0f×%.0f", node.Type, name, node.ID, b.X, b.Y, b.Width, b.Height)
}

// sceneOutline 深度优先遍历场景，最多列出 limit 个节点
func (a *Assembler) sceneOutline(limit int) string {
	var lines []string
	total := 0
	visited := make(map[string]bool)

	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		node, ok := a.state.Node(id)
		if !ok {
			return
		}
		total++
		if limit <= 0 || len(lines) < limit {
			name := node.Name
			if name == "" {
				name = node.ID
			}
			lines = append(lines, fmt.Sprintf("%s- %s「%s」[%s]", strings.Repeat("  ", depth), node.Type, name, node.ID))
		}
		for _, child := range node.Children {
			walk(child, depth+1)
		}
	}
	for _, root := range a.state.RootNodes() {
		walk(root, 0)
	}

	if len(lines) == 0 {
		return ""
	}
	if hidden := total - len(lines); hidden > 0 {
		lines = append(lines, fmt.Sprintf(sceneOverflowTemplate, hidden))
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(parts []string, sep string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
