package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"inkwell/internal/completion"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Write with inline ghost-text completion",
	Long: `Opens a minimal composer. As you pause typing, the active local model
suggests a continuation as faint ghost text. Tab accepts it, Esc discards
it, Ctrl+C exits.`,
	RunE: runCompose,
}

var (
	ghostStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	helpStyle  = lipgloss.NewStyle().Faint(true)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

type suggestionMsg string

type composeModel struct {
	ta          textarea.Model
	ctrl        *completion.Controller
	suggestions chan string
	ghost       string
}

func newComposeModel(ctrl *completion.Controller, suggestions chan string) composeModel {
	ta := textarea.New()
	ta.Placeholder = "Start writing..."
	ta.Focus()
	ta.SetHeight(12)
	return composeModel{ta: ta, ctrl: ctrl, suggestions: suggestions}
}

// offerSuggestion hands a suggestion to the TUI without ever blocking: once
// the program has exited nobody drains the channel, and a late completion
// goroutine must not hang on it. A dropped suggestion is already stale.
func offerSuggestion(ch chan string, s string) {
	select {
	case ch <- s:
	default:
	}
}

func waitForSuggestion(ch chan string) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return suggestionMsg(s)
	}
}

func (m composeModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForSuggestion(m.suggestions))
}

func (m composeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case suggestionMsg:
		m.ghost = string(msg)
		return m, waitForSuggestion(m.suggestions)

	case tea.WindowSizeMsg:
		m.ta.SetWidth(msg.Width - 2)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyTab:
			if m.ghost != "" {
				m.ta.InsertString(m.ctrl.Accept())
				m.ghost = ""
				m.ctrl.TextChanged(m.ta.Value())
				return m, nil
			}

		case tea.KeyEsc:
			if m.ghost != "" {
				m.ctrl.Discard()
				m.ghost = ""
				return m, nil
			}
		}

		// Any other key edits the document and invalidates the ghost.
		var cmd tea.Cmd
		m.ta, cmd = m.ta.Update(msg)
		m.ghost = ""
		m.ctrl.TextChanged(m.ta.Value())
		return m, cmd
	}

	var cmd tea.Cmd
	m.ta, cmd = m.ta.Update(msg)
	return m, cmd
}

func (m composeModel) View() string {
	view := titleStyle.Render("inkwell compose") + "\n\n" + m.ta.View() + "\n"
	if m.ghost != "" {
		view += ghostStyle.Render("… "+m.ghost) + "\n"
	}
	view += helpStyle.Render("tab accept · esc discard · ctrl+c quit")
	return view
}

func runCompose(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	mgr, err := buildManager(settings)
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := mgr.Watch(); err != nil {
		return err
	}

	if _, ok := mgr.Active(); !ok {
		fmt.Println("No active local model; ghost text is off. Run 'inkwell models pull <id>' and 'inkwell models use <id>'.")
	}

	suggestions := make(chan string, 4)
	ctrl := completion.NewController(mgr, loadSkills(),
		time.Duration(settings.Completion.DebounceMS)*time.Millisecond,
		func(s string) { offerSuggestion(suggestions, s) })
	defer ctrl.Close()

	p := tea.NewProgram(newComposeModel(ctrl, suggestions), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
