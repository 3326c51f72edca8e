package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"design-ai/internal/events"
	"design-ai/internal/pkg/errors"
)

// MessageKind 界面消息类别
type MessageKind int

const (
	KindUser MessageKind = iota
	KindAI
	KindTool
	KindSystem
	KindError
)

// Message 代表界面上的一条消息
type Message struct {
	Kind      MessageKind
	Content   string
	Timestamp time.Time
}

// BubbleTeaModel 聊天界面模型，消费编排器的事件队列
type BubbleTeaModel struct {
	// 组件
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// 状态
	messages   []Message
	pending    strings.Builder
	streamed   bool
	status     events.Status
	ready      bool
	quitting   bool
	processing bool
	width      int
	height     int

	engine Engine
	events <-chan events.Event
	config SessionConfig

	renderer *glamour.TermRenderer

	inputStyle lipgloss.Style
	helpStyle  lipgloss.Style
}

// busEventMsg 从事件队列读到的事件
type busEventMsg struct {
	event events.Event
}

// busClosedMsg 事件队列已关闭
type busClosedMsg struct{}

// turnDoneMsg 一轮对话结束
type turnDoneMsg struct {
	err error
}

// NewBubbleTeaModel 创建聊天界面模型。eventCh 必须只由该界面消费
func NewBubbleTeaModel(engine Engine, eventCh <-chan events.Event, config SessionConfig) (*BubbleTeaModel, error) {
	ta := textarea.New()
	ta.Placeholder = "描述你想在画布上做什么... (Ctrl+S 发送，Ctrl+C 退出)"
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetKeys("enter")

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, errors.WrapError(errors.ErrCodeInitializationFailed, "创建Markdown渲染器失败", err)
	}

	m := &BubbleTeaModel{
		viewport: vp,
		textarea: ta,
		spinner:  sp,
		status:   events.StatusIdle,
		engine:   engine,
		events:   eventCh,
		config:   config,
		renderer: renderer,
		inputStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#04B575")).
			Padding(0, 1),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginLeft(1),
	}
	m.addWelcomeMessage()
	return m, nil
}

func (m *BubbleTeaModel) addWelcomeMessage() {
	mode := "普通模式"
	if m.config.Stream {
		mode = "流式模式"
	}
	welcome := fmt.Sprintf("🎨 欢迎使用 design-ai 画布助手 - %s\n", mode) +
		"告诉我你想在画布上创建或调整什么\n\n" +
		"💡 快捷键提示：\n" +
		"  • Ctrl+S - 发送消息\n" +
		"  • Enter - 换行\n" +
		"  • Ctrl+C - 退出程序\n" +
		"  • Ctrl+L - 清空历史\n" +
		"  • Ctrl+U/Ctrl+D - 滚动消息历史"
	m.addMessage(KindSystem, welcome)
}

// waitForEvent 读取下一个事件
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return busEventMsg{event: ev}
	}
}

// Init 初始化模型
func (m *BubbleTeaModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForEvent(m.events))
}

// Update 处理消息更新
func (m *BubbleTeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.width = msg.Width

		headerHeight := 1
		statusHeight := 1
		helpHeight := 3
		inputHeight := 5
		m.viewport.Width = m.width - 2
		m.viewport.Height = max(m.height-headerHeight-statusHeight-helpHeight-inputHeight-2, 3)
		m.textarea.SetWidth(m.width - 4)
		m.textarea.SetHeight(3)

		m.ready = true
		m.updateViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case tea.KeyCtrlL:
			if err := m.engine.Reset(); err != nil {
				m.addMessage(KindError, describeError(err))
				return m, nil
			}
			m.messages = nil
			m.addWelcomeMessage()
			return m, nil

		case tea.KeyCtrlS:
			return m.sendMessage()

		case tea.KeyCtrlU:
			m.viewport.LineUp(5)
			return m, nil

		case tea.KeyCtrlD:
			m.viewport.LineDown(5)
			return m, nil
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case busEventMsg:
		m.handleEvent(msg.event)
		return m, waitForEvent(m.events)

	case busClosedMsg:
		return m, nil

	case turnDoneMsg:
		m.processing = false
		// 其他失败已通过 turn_error 事件显示
		if errors.IsErrorCode(msg.err, errors.ErrCodeTurnInProgress) {
			m.addMessage(KindError, describeError(msg.err))
		}
		return m, nil
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// handleEvent 把编排器事件转成界面消息
func (m *BubbleTeaModel) handleEvent(ev events.Event) {
	switch ev.Type {
	case events.TurnStart:
		m.pending.Reset()
		m.streamed = false

	case events.StreamChunk:
		if text := chunkText(ev); text != "" {
			m.pending.WriteString(text)
			m.updateViewport()
		}

	case events.ToolStart:
		m.commitPending()
		m.addMessage(KindTool, describeToolStart(ev.Call))

	case events.ToolComplete:
		m.addMessage(KindTool, describeToolResult(ev.Call, ev.Result))

	case events.CursorMove:
		m.addMessage(KindSystem, describeCursor(ev.X, ev.Y))

	case events.StatusChange:
		m.status = ev.Status

	case events.TurnComplete:
		m.commitPending()
		if !m.streamed && ev.Response != nil && ev.Response.Content != "" {
			m.addMessage(KindAI, ev.Response.Content)
		}
		if m.config.ShowUsage {
			m.addMessage(KindSystem, describeUsage(ev.Response))
		}

	case events.TurnError:
		// 失败的轮次不保留部分输出
		m.pending.Reset()
		m.addMessage(KindError, describeError(ev.Err))
	}
}

// commitPending 把已收到的流式文本作为一条 AI 消息
func (m *BubbleTeaModel) commitPending() {
	if m.pending.Len() == 0 {
		return
	}
	m.streamed = true
	content := m.pending.String()
	m.pending.Reset()
	m.addMessage(KindAI, content)
}

// Messages 当前界面消息
func (m *BubbleTeaModel) Messages() []Message {
	return append([]Message(nil), m.messages...)
}

// View 渲染界面
func (m *BubbleTeaModel) View() string {
	if m.quitting {
		return "再见!\n"
	}
	if !m.ready {
		return "\n正在初始化..."
	}

	header := systemStyle.Render("design-ai 画布助手")

	statusLine := ""
	if m.processing {
		text := describeStatus(m.status)
		if text == "" {
			text = describeStatus(events.StatusThinking)
		}
		statusLine = m.spinner.View() + " " + systemStyle.Render(text)
	}

	sections := []string{header, m.viewport.View(), statusLine}
	sections = append(sections, m.inputStyle.Render(m.textarea.View()))
	sections = append(sections, m.helpStyle.Render("Ctrl+S: 发送 | Ctrl+C: 退出 | Ctrl+L: 清空 | Ctrl+U/D: 滚动"))
	return strings.Join(sections, "\n")
}

func (m *BubbleTeaModel) addMessage(kind MessageKind, content string) {
	m.messages = append(m.messages, Message{
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	})
	m.updateViewport()
}

func (m *BubbleTeaModel) bubbleWidth() int {
	width := min(m.width*4/5, 80)
	if width <= 0 {
		width = 80
	}
	return width
}

func (m *BubbleTeaModel) markdown(text string) string {
	if m.renderer == nil {
		return text
	}
	rendered, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

// updateViewport 更新视口内容
func (m *BubbleTeaModel) updateViewport() {
	var content strings.Builder

	for i, msg := range m.messages {
		if i > 0 {
			content.WriteString("\n")
		}
		timestamp := msg.Timestamp.Format("15:04:05")

		switch msg.Kind {
		case KindUser:
			content.WriteString(userStyle.MarginLeft(1).Render(fmt.Sprintf("You [%s]:", timestamp)) + "\n")
			bubble := lipgloss.NewStyle().
				Padding(0, 1).
				MarginLeft(1).
				Width(m.bubbleWidth()).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#00ff00"))
			content.WriteString(bubble.Render(msg.Content) + "\n")

		case KindAI:
			content.WriteString(aiStyle.MarginLeft(1).Render(fmt.Sprintf("AI [%s]:", timestamp)) + "\n")
			bubble := lipgloss.NewStyle().
				Padding(0, 1).
				MarginLeft(1).
				Width(m.bubbleWidth()).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#00ffff"))
			content.WriteString(bubble.Render(m.markdown(msg.Content)) + "\n")

		case KindTool:
			content.WriteString(toolStyle.MarginLeft(2).Render(msg.Content) + "\n")

		case KindError:
			content.WriteString(errorStyle.MarginLeft(1).Render(msg.Content) + "\n")

		default:
			content.WriteString(systemStyle.MarginLeft(1).Render(msg.Content) + "\n")
		}
	}

	if m.pending.Len() > 0 {
		content.WriteString("\n" + aiStyle.MarginLeft(1).Render("AI:") + "\n")
		content.WriteString(lipgloss.NewStyle().MarginLeft(2).Render(m.pending.String()) + "\n")
	}

	m.viewport.SetContent(content.String())
	m.viewport.GotoBottom()
}

// sendMessage 发送输入框中的消息
func (m *BubbleTeaModel) sendMessage() (tea.Model, tea.Cmd) {
	if m.processing {
		return m, nil
	}

	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}

	m.textarea.Reset()
	m.addMessage(KindUser, input)
	m.processing = true
	return m, m.runTurn(input)
}

// runTurn 在后台执行一轮对话，过程通过事件队列更新界面
func (m *BubbleTeaModel) runTurn(input string) tea.Cmd {
	engine := m.engine
	config := m.config
	return func() tea.Msg {
		ctx := context.Background()
		if config.TurnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, config.TurnTimeout)
			defer cancel()
		}

		var err error
		if config.Stream {
			_, err = engine.StreamTurn(ctx, input)
		} else {
			_, err = engine.ProcessTurn(ctx, input)
		}
		return turnDoneMsg{err: err}
	}
}

// RunBubbleTeaChat 启动聊天界面
func RunBubbleTeaChat(engine Engine, eventCh <-chan events.Event, config SessionConfig) error {
	model, err := NewBubbleTeaModel(engine, eventCh, config)
	if err != nil {
		return err
	}

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	return err
}
