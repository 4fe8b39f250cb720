// Package tui is the terminal chat view: a companion picker and a transcript
// with an input line.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	chatservice "github.com/zhouzirui/z-tavern/companion/internal/service/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/service/socket"
)

// Session is the part of the chat controller the view drives.
type Session interface {
	Activate(ctx context.Context, userID string, profile companion.Profile) error
	SendUserMessage(ctx context.Context, text string) (chat.Message, error)
	TriggerManualCare(ctx context.Context) (chat.Message, error)
	Reconnect(ctx context.Context) error
	Deactivate()
	DeleteCompanion(ctx context.Context, userID, companionID string) error
	ClearLocalData(ctx context.Context) error
}

// Directory lists and creates the user's companions.
type Directory interface {
	ListCompanions(ctx context.Context, userID string) ([]companion.Profile, error)
	CreateCompanion(ctx context.Context, req backend.CreateRequest) (companion.Profile, error)
}

var errNoDirectory = errors.New("backend unavailable")

// UpdateMsg carries a controller update into the program loop.
type UpdateMsg chatservice.Update

type screen int

const (
	screenPicker screen = iota
	screenChat
)

type profilesLoadedMsg struct {
	profiles []companion.Profile
	err      error
}

type actionDoneMsg struct {
	status string
	err    error
	reload bool
	prefer string
}

const (
	actionTimeout   = 15 * time.Second
	chatPlaceholder = "说点什么吧… (/care 关怀 · /reconnect 重连 · /back 返回)"
	namePlaceholder = "给新伴侣起个名字 (enter 创建 · esc 取消)"
)

// Model 终端聊天界面
type Model struct {
	userID    string
	session   Session
	directory Directory
	fallback  []companion.Profile
	preferred string

	screen   screen
	profiles []companion.Profile
	cursor   int
	active   companion.Profile
	naming   bool

	messages   []chat.Message
	status     socket.State
	statusLine string
	lastErr    error
	busy       bool

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme

	width  int
	height int
}

// New builds the view. fallback is shown when the directory is unreachable.
func New(userID string, session Session, directory Directory, fallback []companion.Profile) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = chatPlaceholder

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff8fab"))

	return Model{
		userID:     userID,
		session:    session,
		directory:  directory,
		fallback:   fallback,
		screen:     screenPicker,
		statusLine: "正在加载伴侣列表…",
		busy:       true,
		input:      input,
		timeline:   viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
	}
}

// Prefer places the picker cursor on companionID once the list loads.
func (m Model) Prefer(companionID string) Model {
	m.preferred = companionID
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadProfilesCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case profilesLoadedMsg:
		m.busy = false
		m.profiles = msg.profiles
		if msg.err != nil {
			m.lastErr = msg.err
			m.profiles = m.fallback
			m.statusLine = "无法获取伴侣列表，使用本地示例"
		} else {
			m.lastErr = nil
			m.statusLine = fmt.Sprintf("共 %d 位伴侣", len(m.profiles))
		}
		if m.cursor >= len(m.profiles) {
			m.cursor = 0
		}
		for i, p := range m.profiles {
			if m.preferred != "" && p.ID == m.preferred {
				m.cursor = i
				m.preferred = ""
				break
			}
		}
	case UpdateMsg:
		if m.screen == screenChat && msg.CompanionID == m.active.ID {
			m.messages = msg.Messages
			m.status = msg.Status
			m.renderTimeline()
		}
	case actionDoneMsg:
		m.busy = false
		m.lastErr = msg.err
		if msg.status != "" {
			m.statusLine = msg.status
		}
		if msg.prefer != "" {
			m.preferred = msg.prefer
		}
		if msg.reload {
			m.busy = true
			cmds = append(cmds, m.loadProfilesCmd())
		}
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.screen == screenPicker && m.naming {
			return m.updateNaming(msg)
		}
		if m.screen == screenPicker {
			return m.updatePicker(msg)
		}
		return m.updateChat(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if len(m.profiles) > 0 {
			m.cursor = (m.cursor + len(m.profiles) - 1) % len(m.profiles)
		}
	case "down", "j":
		if len(m.profiles) > 0 {
			m.cursor = (m.cursor + 1) % len(m.profiles)
		}
	case "r":
		m.busy = true
		return m, m.loadProfilesCmd()
	case "n":
		m.naming = true
		m.input.Reset()
		m.input.Placeholder = namePlaceholder
		return m, m.input.Focus()
	case "X":
		m.busy = true
		m.statusLine = "正在清空本地聊天记录…"
		return m, m.clearCmd()
	case "d":
		if p, ok := m.selected(); ok {
			m.busy = true
			m.statusLine = "正在删除 " + p.Name + "…"
			return m, m.deleteCmd(p)
		}
	case "enter":
		if p, ok := m.selected(); ok {
			m.screen = screenChat
			m.active = p
			m.messages = nil
			m.status = socket.Connecting
			m.busy = true
			m.statusLine = "正在进入与 " + p.Name + " 的聊天…"
			m.input.Reset()
			m.input.Placeholder = chatPlaceholder
			focus := m.input.Focus()
			m.renderTimeline()
			return m, tea.Batch(focus, m.activateCmd(p))
		}
	}
	return m, nil
}

func (m Model) updateNaming(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.naming = false
		m.input.Reset()
		m.input.Blur()
		return m, nil
	case "enter":
		name := strings.TrimSpace(m.input.Value())
		if name == "" {
			return m, nil
		}
		m.naming = false
		m.input.Reset()
		m.input.Blur()
		m.busy = true
		m.statusLine = "正在创建 " + name + "…"
		return m, m.createCmd(name)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.back()
	case "pgup":
		m.timeline.ScrollUp(8)
		return m, nil
	case "pgdown":
		m.timeline.ScrollDown(8)
		return m, nil
	case "enter":
		raw := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if raw == "" {
			return m, nil
		}
		if strings.HasPrefix(raw, "/") {
			return m.handleSlash(raw)
		}
		return m, m.sendCmd(raw)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSlash(raw string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(strings.Fields(raw)[0]) {
	case "/care":
		return m, m.careCmd()
	case "/reconnect":
		m.statusLine = "正在重连…"
		return m, m.reconnectCmd()
	case "/back":
		return m.back()
	default:
		m.statusLine = "未知命令: " + raw
		return m, nil
	}
}

func (m Model) back() (tea.Model, tea.Cmd) {
	m.screen = screenPicker
	m.input.Blur()
	m.messages = nil
	m.statusLine = "已离开与 " + m.active.Name + " 的聊天"
	m.active = companion.Profile{}
	return m, m.deactivateCmd()
}

func (m Model) selected() (companion.Profile, bool) {
	if m.cursor < 0 || m.cursor >= len(m.profiles) {
		return companion.Profile{}, false
	}
	return m.profiles[m.cursor], true
}

// Commands run off the program loop, so controller listeners that post
// UpdateMsg never wait on the loop that is waiting on them.

func (m Model) loadProfilesCmd() tea.Cmd {
	directory, userID, fallback := m.directory, m.userID, m.fallback
	return func() tea.Msg {
		if directory == nil {
			return profilesLoadedMsg{profiles: fallback}
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		profiles, err := directory.ListCompanions(ctx, userID)
		return profilesLoadedMsg{profiles: profiles, err: err}
	}
}

func (m Model) activateCmd(p companion.Profile) tea.Cmd {
	session, userID := m.session, m.userID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := session.Activate(ctx, userID, p); err != nil {
			return actionDoneMsg{status: "无法开始聊天", err: err}
		}
		return actionDoneMsg{status: "与 " + p.Name + " 聊天中"}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_, err := session.SendUserMessage(ctx, text)
		switch {
		case errors.Is(err, socket.ErrNotConnected):
			return actionDoneMsg{status: "未连接，消息已保存在本地 (/reconnect 重连)", err: err}
		case err != nil:
			return actionDoneMsg{status: "发送失败", err: err}
		}
		return actionDoneMsg{}
	}
}

func (m Model) careCmd() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if _, err := session.TriggerManualCare(ctx); err != nil {
			return actionDoneMsg{status: "关怀发送失败", err: err}
		}
		return actionDoneMsg{status: "已送上一份关怀"}
	}
}

func (m Model) reconnectCmd() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := session.Reconnect(ctx); err != nil {
			return actionDoneMsg{status: "重连失败", err: err}
		}
		return actionDoneMsg{status: "已重新连接"}
	}
}

func (m Model) deactivateCmd() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		session.Deactivate()
		return actionDoneMsg{}
	}
}

func (m Model) deleteCmd(p companion.Profile) tea.Cmd {
	session, userID := m.session, m.userID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := session.DeleteCompanion(ctx, userID, p.ID); err != nil {
			return actionDoneMsg{status: "删除失败", err: err}
		}
		return actionDoneMsg{status: "已删除 " + p.Name, reload: true}
	}
}

func (m Model) createCmd(name string) tea.Cmd {
	directory, userID := m.directory, m.userID
	return func() tea.Msg {
		if directory == nil {
			return actionDoneMsg{status: "创建失败", err: errNoDirectory}
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		created, err := directory.CreateCompanion(ctx, backend.CreateRequest{
			UserID:      userID,
			Name:        name,
			Personality: int(companion.Caring),
		})
		if err != nil {
			return actionDoneMsg{status: "创建失败", err: err}
		}
		return actionDoneMsg{status: "已创建 " + created.Name, reload: true, prefer: created.ID}
	}
}

func (m Model) clearCmd() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := session.ClearLocalData(ctx); err != nil {
			return actionDoneMsg{status: "清空失败", err: err}
		}
		return actionDoneMsg{status: "本地聊天记录已清空"}
	}
}
