// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/pairview/lib/clock"
	"github.com/bureau-foundation/pairview/observe"
)

// Source is the session the model displays. *observe.Store
// implements it.
type Source interface {
	State() observe.State
	Dispatch(observe.Action) observe.State
	Subscribe(func(observe.State)) (unsubscribe func())
}

// StatusMsg reports the connection status shown at the left of the
// status bar.
type StatusMsg string

// stateMsg carries a new session snapshot.
type stateMsg struct{ state observe.State }

// tickMsg redraws once a second so countdown notices count.
type tickMsg struct{}

const pickerRows = 10

// Model is the bubbletea model for the viewer: a tab bar of open
// files, the active file's text, and a status bar.
type Model struct {
	source  Source
	updates *stateFeed
	keys    KeyMap
	clock   clock.Clock

	state       observe.State
	status      string
	highlighter *Highlighter
	labels      map[observe.FileID]string

	width  int
	height int
	ready  bool

	viewport viewport.Model
	// shownFile and shownView track what the viewport was last
	// positioned for, so follow mode recenters only when the cursor
	// moves.
	shownFile observe.FileID
	shownView *observe.View
	preview   bool

	picker        textinput.Model
	pickerOpen    bool
	pickerResults []observe.File
	pickerIndex   int

	logMessage string
	logLevel   slog.Level
	logSeq     uint64
}

// NewModel returns a model displaying source. It subscribes
// immediately; the subscription ends when the program exits.
func NewModel(source Source, status string) Model {
	picker := textinput.New()
	picker.Prompt = "/ "
	picker.Placeholder = "file name"

	model := Model{
		source:      source,
		updates:     newStateFeed(source),
		keys:        DefaultKeyMap,
		clock:       clock.Real(),
		state:       source.State(),
		status:      status,
		highlighter: NewHighlighter(),
		viewport:    viewport.New(0, 0),
		shownFile:   observe.NoFile,
		picker:      picker,
	}
	model.labels = TabLabels(model.state.SortedFiles())
	return model
}

// SetClock replaces the clock used to render countdowns.
func (model *Model) SetClock(clk clock.Clock) { model.clock = clk }

func (model Model) Init() tea.Cmd {
	return tea.Batch(model.updates.next(), scheduleTick())
}

func scheduleTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		if model.pickerOpen {
			return model.handlePickerKeys(message)
		}
		return model.handleKeys(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.viewport.Width = max(message.Width-1, 1)
		model.viewport.Height = model.bodyHeight()
		model.syncViewport(true)

	case stateMsg:
		model.applyState(message.state)
		return model, model.updates.next()

	case StatusMsg:
		model.status = string(message)

	case tickMsg:
		return model, scheduleTick()

	case logRecordMsg:
		model.logMessage = message.Summary
		model.logLevel = message.Level
		model.logSeq = message.seq
		seq := message.seq
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{seq: seq}
		})

	case logRecordFadeMsg:
		if message.seq == model.logSeq {
			model.logMessage = ""
		}
	}
	return model, nil
}

func (model *Model) applyState(state observe.State) {
	previous := model.state
	model.state = state
	model.labels = TabLabels(state.SortedFiles())
	model.highlighter.Forget(state.Files)
	if model.pickerOpen {
		model.refreshPicker()
	}
	schemeChanged := previous.ColorScheme != state.ColorScheme
	model.syncViewport(schemeChanged)
}

func (model Model) handleKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		model.updates.stop()
		return model, tea.Quit

	case key.Matches(message, model.keys.Up):
		model.viewport.SetYOffset(model.viewport.YOffset - 1)
	case key.Matches(message, model.keys.Down):
		model.viewport.SetYOffset(model.viewport.YOffset + 1)
	case key.Matches(message, model.keys.PageUp):
		model.viewport.HalfViewUp()
	case key.Matches(message, model.keys.PageDown):
		model.viewport.HalfViewDown()
	case key.Matches(message, model.keys.Home):
		model.viewport.GotoTop()
	case key.Matches(message, model.keys.End):
		model.viewport.GotoBottom()

	case key.Matches(message, model.keys.NextFile):
		model.selectRelative(1)
	case key.Matches(message, model.keys.PreviousFile):
		model.selectRelative(-1)

	case key.Matches(message, model.keys.Picker):
		model.pickerOpen = true
		model.picker.Reset()
		model.refreshPicker()
		return model, model.picker.Focus()

	case key.Matches(message, model.keys.Follow):
		model.source.Dispatch(observe.ToggleFollow{})
	case key.Matches(message, model.keys.Scheme):
		model.source.Dispatch(observe.SetColorScheme{Scheme: NextScheme(model.state.ColorScheme)})
	case key.Matches(message, model.keys.Preview):
		if file, ok := model.state.ActiveFile(); ok && IsMarkdown(file.Filename, file.Language) {
			model.preview = !model.preview
			model.syncViewport(true)
		}
	case key.Matches(message, model.keys.Dismiss):
		if alerts := model.state.Alerts; len(alerts) > 0 {
			model.source.Dispatch(observe.RemoveToast{ID: alerts[len(alerts)-1].ID})
		}
	}
	return model, nil
}

func (model *Model) selectRelative(delta int) {
	files := model.state.SortedFiles()
	if len(files) == 0 {
		return
	}
	index := 0
	for i, file := range files {
		if file.ID == model.state.ActiveFileID {
			index = (i + delta + len(files)) % len(files)
			break
		}
	}
	model.source.Dispatch(observe.SelectFile{FileID: files[index].ID})
}

func (model Model) handlePickerKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch message.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		model.closePicker()
		return model, nil
	case tea.KeyEnter:
		if model.pickerIndex < len(model.pickerResults) {
			model.source.Dispatch(observe.SelectFile{FileID: model.pickerResults[model.pickerIndex].ID})
		}
		model.closePicker()
		return model, nil
	case tea.KeyUp, tea.KeyCtrlK:
		if model.pickerIndex > 0 {
			model.pickerIndex--
		}
		return model, nil
	case tea.KeyDown, tea.KeyCtrlJ:
		if model.pickerIndex < len(model.pickerResults)-1 {
			model.pickerIndex++
		}
		return model, nil
	}
	var command tea.Cmd
	model.picker, command = model.picker.Update(message)
	model.refreshPicker()
	return model, command
}

func (model *Model) refreshPicker() {
	model.pickerResults = RankFiles(model.state.SortedFiles(), model.picker.Value())
	if model.pickerIndex >= len(model.pickerResults) {
		model.pickerIndex = max(len(model.pickerResults)-1, 0)
	}
}

func (model *Model) closePicker() {
	model.pickerOpen = false
	model.pickerIndex = 0
	model.picker.Blur()
}

// bodyHeight is the viewport height: the screen minus the tab bar and
// status bar.
func (model Model) bodyHeight() int {
	return max(model.height-2, 1)
}

// syncViewport rebuilds the viewport content and, in follow mode,
// centers the editor's cursor line when it moved or the file changed.
func (model *Model) syncViewport(force bool) {
	if !model.ready {
		return
	}
	file, ok := model.state.ActiveFile()
	if !ok {
		model.viewport.SetContent("")
		model.shownFile = observe.NoFile
		return
	}
	if file.ID != model.shownFile {
		model.preview = false
	}

	offset := model.viewport.YOffset
	model.viewport.SetContent(strings.Join(model.renderFile(file), "\n"))
	model.viewport.SetYOffset(offset)

	view := model.state.View
	cursorMoved := view != nil && (model.shownView == nil || *view != *model.shownView)
	fileChanged := file.ID != model.shownFile
	if model.state.Follow && view != nil && view.FileID == file.ID && (cursorMoved || fileChanged || force) && !model.preview {
		model.viewport.SetYOffset(view.Line - model.viewport.Height/2)
	} else if fileChanged {
		model.viewport.GotoTop()
	}
	model.shownFile = file.ID
	model.shownView = view
}

func (model Model) scrollbar() scrollbar {
	bar := scrollbar{
		height:  model.viewport.Height,
		total:   model.viewport.TotalLineCount(),
		visible: model.viewport.Height,
		offset:  model.viewport.YOffset,
		cursor:  -1,
	}
	if view := model.state.View; view != nil && view.FileID == model.shownFile && !model.preview {
		bar.cursor = view.Line
	}
	return bar
}

// renderFile returns the body lines for file: a line-number gutter and
// the highlighted text, with the editor's cursor line and selection
// marked.
func (model Model) renderFile(file observe.File) []string {
	theme := ThemeFor(model.state.ColorScheme)
	faint := lipgloss.NewStyle().Foreground(theme.FaintText)
	if !file.Loaded() {
		return []string{faint.Render("Loading " + file.Filename + "…")}
	}
	if model.preview {
		return RenderMarkdown(strings.Join(file.Lines, "\n"), theme, model.state.ColorScheme, model.viewport.Width-1)
	}

	cursorLine, selectionStart, selectionEnd := -1, -1, -1
	if view := model.state.View; view != nil && view.FileID == file.ID {
		cursorLine = view.Line
		if view.Range != nil {
			selectionStart, selectionEnd = view.Range.Start.Line, view.Range.End.Line
			if selectionStart > selectionEnd {
				selectionStart, selectionEnd = selectionEnd, selectionStart
			}
		}
	}

	highlighted := model.highlighter.Lines(file, model.state.ColorScheme)
	gutterWidth := len(fmt.Sprint(len(highlighted)))
	gutter := faint
	cursorGutter := lipgloss.NewStyle().Foreground(theme.TabCursor).Background(theme.CursorLine).Bold(true)
	selectionMark := lipgloss.NewStyle().Foreground(theme.Info).Render("▎")

	out := make([]string, len(highlighted))
	for index, line := range highlighted {
		number := fmt.Sprintf("%*d", gutterWidth, index+1)
		mark := " "
		if index >= selectionStart && index <= selectionEnd {
			mark = selectionMark
		}
		if index == cursorLine {
			out[index] = cursorGutter.Render(number) + mark + line
		} else {
			out[index] = gutter.Render(number) + mark + line
		}
	}
	return out
}

func (model Model) View() string {
	if !model.ready {
		return ""
	}
	theme := ThemeFor(model.state.ColorScheme)
	var body string
	switch {
	case model.pickerOpen:
		body = model.renderPicker(theme)
	case len(model.state.Files) == 0:
		body = lipgloss.Place(model.width, model.bodyHeight(), lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(theme.FaintText).Render("Waiting for the editor…"))
	default:
		body = lipgloss.JoinHorizontal(lipgloss.Top, model.viewport.View(), model.scrollbar().render(theme))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		model.renderTabs(theme),
		body,
		model.renderStatusBar(theme),
	)
}

func (model Model) renderTabs(theme Theme) string {
	active := lipgloss.NewStyle().Foreground(theme.TabActive).Bold(true).Underline(true)
	inactive := lipgloss.NewStyle().Foreground(theme.TabInactive)
	cursor := lipgloss.NewStyle().Foreground(theme.TabCursor).Render("●")

	var parts []string
	for _, file := range model.state.SortedFiles() {
		label := model.labels[file.ID]
		if model.state.View != nil && model.state.View.FileID == file.ID {
			label = cursor + " " + label
		}
		if file.ID == model.state.ActiveFileID {
			parts = append(parts, active.Render(label))
		} else {
			parts = append(parts, inactive.Render(label))
		}
	}
	return ansi.Truncate(" "+strings.Join(parts, "  "), model.width, "…")
}

func (model Model) renderPicker(theme Theme) string {
	lines := []string{model.picker.View()}
	selected := lipgloss.NewStyle().Background(theme.CursorLine).Foreground(theme.TabActive)
	plain := lipgloss.NewStyle().Foreground(theme.Foreground)
	for index, file := range model.pickerResults {
		if index == pickerRows {
			break
		}
		if index == model.pickerIndex {
			lines = append(lines, selected.Render("> "+file.Filename))
		} else {
			lines = append(lines, plain.Render("  "+file.Filename))
		}
	}
	if len(model.pickerResults) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.FaintText).Render("  no matches"))
	}
	return lipgloss.NewStyle().Height(model.bodyHeight()).MaxHeight(model.bodyHeight()).Render(strings.Join(lines, "\n"))
}

func (model Model) renderStatusBar(theme Theme) string {
	faint := lipgloss.NewStyle().Foreground(theme.FaintText)

	var left []string
	if model.status != "" {
		left = append(left, model.status)
	}
	if model.state.Follow {
		left = append(left, lipgloss.NewStyle().Foreground(theme.Success).Render("following"))
	} else {
		left = append(left, faint.Render("free"))
	}
	if file, ok := model.state.ActiveFile(); ok {
		if file.Language != "" {
			left = append(left, file.Language)
		}
		if view := model.state.View; view != nil && view.FileID == file.ID {
			left = append(left, fmt.Sprintf("Ln %d, Col %d", view.Line+1, view.Character+1))
		}
	}
	leftText := " " + strings.Join(left, faint.Render(" │ "))

	rightText := model.notice(theme)
	if rightText == "" {
		rightText = faint.Render("/ find  f follow  c colors  q quit")
	}

	gap := model.width - ansi.StringWidth(leftText) - ansi.StringWidth(rightText) - 1
	if gap < 1 {
		available := max(model.width-ansi.StringWidth(leftText)-2, 0)
		rightText = ansi.Truncate(rightText, available, "…")
		gap = 1
	}
	return ansi.Truncate(leftText+strings.Repeat(" ", gap)+rightText, model.width, "")
}

// notice returns the newest toast, or failing that the latest log
// record, styled for its severity.
func (model Model) notice(theme Theme) string {
	if alerts := model.state.Alerts; len(alerts) > 0 {
		newest := alerts[len(alerts)-1]
		text := newest.Render(model.clock.Now())
		if extra := len(alerts) - 1; extra > 0 {
			text += fmt.Sprintf(" (+%d)", extra)
		}
		return lipgloss.NewStyle().Foreground(severityColor(theme, newest.Severity)).Render(text)
	}
	if model.logMessage != "" {
		color := theme.Warning
		if model.logLevel >= slog.LevelError {
			color = theme.Error
		}
		return lipgloss.NewStyle().Foreground(color).Render(model.logMessage)
	}
	return ""
}

func severityColor(theme Theme, severity observe.Severity) lipgloss.Color {
	switch severity {
	case observe.SeveritySuccess:
		return theme.Success
	case observe.SeverityWarning:
		return theme.Warning
	case observe.SeverityError:
		return theme.Error
	default:
		return theme.Info
	}
}

// stateFeed delivers store snapshots to the model. Only the newest
// undelivered snapshot is kept.
type stateFeed struct {
	mu          sync.Mutex
	pending     chan observe.State
	unsubscribe func()
}

func newStateFeed(source Source) *stateFeed {
	feed := &stateFeed{pending: make(chan observe.State, 1)}
	feed.unsubscribe = source.Subscribe(feed.push)
	return feed
}

func (feed *stateFeed) push(state observe.State) {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	select {
	case <-feed.pending:
	default:
	}
	feed.pending <- state
}

func (feed *stateFeed) next() tea.Cmd {
	return func() tea.Msg {
		return stateMsg{state: <-feed.pending}
	}
}

func (feed *stateFeed) stop() { feed.unsubscribe() }
