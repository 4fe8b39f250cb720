package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/service/socket"
)

const (
	headerHeight = 3
	inputHeight  = 3
	footerHeight = 1
)

func (m Model) View() string {
	if m.width == 0 {
		return "加载中…"
	}

	var body string
	switch {
	case m.screen == screenPicker && m.naming:
		body = lipgloss.JoinVertical(lipgloss.Left,
			m.renderPicker(),
			m.theme.inputPanel.Width(m.width-4).Render(m.input.View()),
		)
	case m.screen == screenPicker:
		body = m.renderPicker()
	default:
		body = lipgloss.JoinVertical(lipgloss.Left,
			m.theme.panel.Width(m.width-4).Render(m.timeline.View()),
			m.theme.inputPanel.Width(m.width-4).Render(m.input.View()),
		)
	}

	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderFooter(),
	))
}

func (m *Model) resize() {
	w := m.width - 6
	if w < 10 {
		w = 10
	}
	h := m.height - headerHeight - inputHeight - footerHeight - 4
	if h < 3 {
		h = 3
	}
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = w - 4
}

func (m Model) renderHeader() string {
	title := "💗 虚拟伴侣"
	if m.screen == screenChat {
		title = fmt.Sprintf("💗 %s  %s", m.active.Name, m.statusBadge())
	}
	w := m.width - 4
	if w < 10 {
		w = 10
	}
	return m.theme.header.Width(w).Render(title)
}

// statusBadge 连接状态标签
func (m Model) statusBadge() string {
	switch m.status {
	case socket.Open:
		return m.theme.online.Render("● 在线")
	case socket.Idle, socket.Connecting:
		return m.theme.connecting.Render("◌ 连接中…")
	default:
		return m.theme.offline.Render("○ 已断开")
	}
}

func (m Model) renderPicker() string {
	var b strings.Builder
	b.WriteString(m.theme.panelTitle.Render("选择一位伴侣"))
	b.WriteString("\n\n")

	if len(m.profiles) == 0 {
		b.WriteString(m.theme.helpText.Render("还没有伴侣，按 r 重新加载"))
	}
	for i, p := range m.profiles {
		line := fmt.Sprintf("%s · %s", p.Name, p.Personality)
		if len(p.Interests) > 0 {
			line += " · " + strings.Join(p.Interests, "、")
		}
		if i == m.cursor {
			b.WriteString(m.theme.pick.Render("❯ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	return m.theme.panel.Width(m.width - 4).Render(b.String())
}

func (m Model) renderFooter() string {
	status := m.statusLine
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	if m.lastErr != nil {
		status = m.theme.errorStatus.Render(status + ": " + m.lastErr.Error())
	}

	help := "↑/↓ 选择 · enter 进入 · n 新建 · d 删除 · r 刷新 · X 清空本地记录 · q 退出"
	if m.screen == screenChat {
		help = "enter 发送 · pgup/pgdown 滚动 · esc 返回 · ctrl+c 退出"
	}
	return m.theme.footer.Render(status + "  " + m.theme.helpText.Render(help))
}

func (m *Model) renderTimeline() {
	if m.screen != screenChat {
		m.timeline.SetContent("")
		return
	}

	var b strings.Builder
	if len(m.messages) == 0 {
		b.WriteString(m.theme.helpText.Render("还没有消息，打个招呼吧。"))
	}
	for _, msg := range m.messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n\n")
	}

	m.timeline.SetContent(lipgloss.NewStyle().Width(m.timeline.Width).Render(b.String()))
	m.timeline.GotoBottom()
}

func (m Model) renderMessage(msg chat.Message) string {
	stamp := m.theme.helpText.Render(msg.Timestamp.Local().Format("15:04"))

	var label string
	switch {
	case msg.Sender == chat.SenderHuman:
		label = m.theme.human.Render("我")
	case msg.Kind == chat.KindCare:
		label = m.theme.care.Render(m.active.Name + " · 关怀")
	case msg.Kind == chat.KindNews:
		label = m.theme.care.Render(m.active.Name + " · 新闻")
	default:
		label = m.theme.companion.Render(m.active.Name)
	}

	return fmt.Sprintf("%s %s\n%s", label, stamp, msg.Content)
}
