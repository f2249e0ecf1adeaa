package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homevoice/pkg/command"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const voicePrefix = "/voice"

const mouseWheelLines = 3

type logEntry struct {
	role    string
	content string
	detail  string
}

type outcomeMsg struct {
	outcome command.Outcome
	elapsed time.Duration
	err     error
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	submitFn     SubmitFunc
	mode         mode
	oneShotInput string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []logEntry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	runtime   RuntimeInfo
	succeeded int
	failed    int
}

func newModel(ctx context.Context, submitFn SubmitFunc, runMode mode, input string, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(colorAmber)

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "turn on the kitchen lights  ·  /voice ./note.ogg"
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		submitFn:     submitFn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(input),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
		runtime:      info,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot && m.oneShotInput != "" {
		return m.send(m.oneShotInput)
	}

	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep <= len(bootScript) {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			value := strings.TrimSpace(m.input.Value())
			if value == "" {
				return m, nil
			}
			if isExitCommand(value) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			m.followLog = true
			return m, m.send(value)
		}
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case outcomeMsg:
		m.isLoading = false
		m.recordOutcome(typed)
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
	}

	return m, cmd
}

// send parses one console line and starts submitting it.
func (m *model) send(value string) tea.Cmd {
	req, err := ParseRequest(value)
	if err != nil {
		m.lastErr = err.Error()
		m.entries = append(m.entries, logEntry{role: "error", content: err.Error()})
		m.refreshViewport(true)
		if m.mode == modeOneShot {
			return tea.Quit
		}
		return nil
	}

	m.lastErr = ""
	if req.AudioPath != "" {
		m.entries = append(m.entries, logEntry{role: "voice", content: req.AudioPath, detail: req.MimeType})
	} else {
		m.entries = append(m.entries, logEntry{role: "user", content: req.Text})
	}
	m.isLoading = true
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, submitCmd(m.ctx, m.submitFn, req))
}

func (m *model) recordOutcome(msg outcomeMsg) {
	elapsed := msg.elapsed.Round(time.Millisecond).String()

	if msg.err != nil {
		m.failed++
		m.lastErr = msg.err.Error()
		m.entries = append(m.entries, logEntry{role: "error", content: msg.err.Error()})
		return
	}

	switch o := msg.outcome.(type) {
	case command.Success:
		m.succeeded++
		m.lastErr = ""
		m.entries = append(m.entries, logEntry{role: "result", content: o.Text, detail: fmt.Sprintf("→ nlu · %s · %s", o.ID, elapsed)})
	case command.Failure:
		m.failed++
		m.lastErr = o.Reason
		m.entries = append(m.entries, logEntry{role: "failure", content: o.Reason, detail: fmt.Sprintf("%s · %s · %s", o.Kind, o.ID, elapsed)})
	default:
		m.failed++
		m.lastErr = "no outcome"
		m.entries = append(m.entries, logEntry{role: "error", content: "no outcome received"})
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.banner.Width(m.width - 2).Render("🏠 HomeVoice Command Console")
	meta := m.theme.meta.Render(fmt.Sprintf(
		"broker:%s · cache:%s · stt:%s · user:%s · ok/failed:%d/%d",
		displayOrNA(m.runtime.Broker),
		displayOrNA(m.runtime.Cache),
		displayOrNA(m.runtime.Transcriber),
		displayOrNA(m.runtime.UserID),
		m.succeeded,
		m.failed,
	))
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.idle.Render("💡 Enter send  ·  /voice <file> [mime]  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.busy.Render(fmt.Sprintf("%s ⚡ waiting for the pipeline...", m.spinner.View()))
	}
	if m.lastErr != "" && !m.isLoading {
		status = m.theme.failed.Render("🚨 last command failed")
	}

	parts := []string{header, meta, line, m.theme.frame.Width(m.width - 2).Render(m.viewport.View()), status}

	if m.mode == modeInteractive {
		parts = append(parts,
			m.theme.promptName.Render("🗣 Command")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
			m.theme.prompt.Width(m.width-2).Render(m.input.View()),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		sections = append(sections, m.renderEntry(entry, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) renderEntry(entry logEntry, width int) string {
	body := strings.TrimSpace(entry.content)
	if entry.detail != "" {
		body = strings.TrimSpace(body + "\n\n" + m.theme.hint.Render(entry.detail))
	}

	c := m.theme.cardFor(entry.role)
	return m.renderCard(c.title.Render(c.label), c.box.Width(width).Render(body))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	if len(m.entries) == 0 {
		return ""
	}

	parts := []string{m.renderEntry(m.entries[0], contentWidth)}
	if m.isLoading {
		parts = append(parts, m.theme.busy.Render(fmt.Sprintf("%s ⚡ submitting and waiting for the outcome...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	for _, entry := range m.entries[1:] {
		parts = append(parts, m.renderEntry(entry, contentWidth))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.banner.Width(m.width - 2).Render("🏠 HomeVoice Command Console")
	meta := m.theme.meta.Render("boot sequence")
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	visible := make([]string, 0, len(bootScript)+1)
	for _, step := range bootScript[:min(m.bootStep, len(bootScript))] {
		visible = append(visible, m.theme.bootLine.Render(step))
	}
	if m.bootStep > len(bootScript) {
		visible = append(visible, m.theme.bootReady.Render("✅ console online"))
	}

	body := m.theme.frame.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

type scrollKeys struct {
	pageUp   key.Binding
	pageDown key.Binding
	top      key.Binding
	bottom   key.Binding
}

var scrollKeyMap = scrollKeys{
	pageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+b", "alt+up", "ctrl+up")),
	pageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+f", "alt+down", "ctrl+down")),
	top:      key.NewBinding(key.WithKeys("home")),
	bottom:   key.NewBinding(key.WithKeys("end")),
}

// handleViewportKey scrolls the transcript. New entries keep the view pinned
// only while it sits at the bottom.
func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch {
	case key.Matches(msg, scrollKeyMap.pageUp):
		m.viewport.PageUp()
	case key.Matches(msg, scrollKeyMap.pageDown):
		m.viewport.PageDown()
	case key.Matches(msg, scrollKeyMap.top):
		m.viewport.GotoTop()
	case key.Matches(msg, scrollKeyMap.bottom):
		m.viewport.GotoBottom()
	default:
		return false
	}

	m.followLog = m.viewport.AtBottom()
	return true
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - mouseWheelLines)
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + mouseWheelLines)
	default:
		return false
	}

	m.followLog = m.viewport.AtBottom()
	return true
}

var bootScript = []string{
	"[BOOT] connecting command queue",
	"[BOOT] warming payload cache",
	"[BOOT] tuning transcriber",
	"[BOOT] listening for commands",
}

// ParseRequest turns a console line into a Request. "/voice <path> [mime]"
// submits a recording; anything else is a text command.
func ParseRequest(value string) (Request, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Request{}, errors.New("command is empty")
	}

	fields := strings.Fields(value)
	if fields[0] != voicePrefix {
		return Request{Text: value}, nil
	}

	switch len(fields) {
	case 2:
		return Request{AudioPath: fields[1]}, nil
	case 3:
		return Request{AudioPath: fields[1], MimeType: fields[2]}, nil
	default:
		return Request{}, errors.New("usage: /voice <file> [mime-type]")
	}
}

func submitCmd(ctx context.Context, submitFn SubmitFunc, req Request) tea.Cmd {
	return func() tea.Msg {
		startedAt := time.Now()
		o, err := submitFn(ctx, req)
		return outcomeMsg{outcome: o, elapsed: time.Since(startedAt), err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
