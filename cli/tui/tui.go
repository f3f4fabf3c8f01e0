package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// ProgressMsg reports merge progress to MergeModel.
type ProgressMsg struct {
	Percent   int
	Processed int64
	Total     int64
}

// DoneMsg ends the merge view.
type DoneMsg struct {
	Summary Summary
	Err     error
}

// MergeModel is a Bubble Tea model showing a progress bar while a merge
// runs and the summary once it finishes.
type MergeModel struct {
	title    string
	bar      progress.Model
	last     ProgressMsg
	done     *DoneMsg
	quitting bool
}

// NewMergeModel creates a merge view with the given title.
func NewMergeModel(title string) MergeModel {
	return MergeModel{
		title: title,
		bar:   progress.New(progress.WithDefaultGradient()),
	}
}

// Init implements tea.Model.
func (m MergeModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m MergeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case ProgressMsg:
		m.last = msg
		return m, nil

	case DoneMsg:
		m.done = &msg
		if msg.Err == nil {
			m.last.Percent = 100
		}
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m MergeModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title) + "\n")
	b.WriteString(m.bar.ViewAs(float64(m.last.Percent)/100) + "\n")
	b.WriteString(LabelStyle.Render("Processed") +
		ValueStyle.Render(fmt.Sprintf("%s / %s", formatBytes(m.last.Processed), formatBytes(m.last.Total))) + "\n")

	switch {
	case m.done == nil:
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to abort"))
	case m.done.Err != nil:
		b.WriteString(ErrorStyle.Render("Merge failed: "+m.done.Err.Error()) + "\n")
	default:
		b.WriteString("\n" + RenderSummary(m.done.Summary) + "\n")
	}
	return b.String()
}

// Percent returns the last percent shown.
func (m MergeModel) Percent() int {
	return m.last.Percent
}

// RunMerge shows the merge view while run executes. run receives a send
// function that forwards progress to the view. Quitting the view cancels
// the context passed to run.
func RunMerge(ctx context.Context, title string, run func(ctx context.Context, send func(ProgressMsg)) (Summary, error)) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewMergeModel(title), tea.WithContext(ctx))

	var (
		summary Summary
		runErr  error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, runErr = run(ctx, func(msg ProgressMsg) { p.Send(msg) })
		p.Send(DoneMsg{Summary: summary, Err: runErr})
	}()

	_, err := p.Run()
	cancel()
	<-done

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return summary, fmt.Errorf("tui: %w", err)
	}
	return summary, runErr
}
