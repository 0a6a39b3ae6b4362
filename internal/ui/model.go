package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"meshcall/native/internal/domain"
	"meshcall/native/internal/session"
)

// Controller is the part of a session the UI drives.
type Controller interface {
	Snapshot() session.View
	Subscribe() <-chan struct{}
	ToggleMic() (bool, error)
	ToggleCamera() (bool, error)
	Leave()
}

type viewChanged struct{}

type actionResult struct {
	err error
}

// Model is the bubbletea model for a live call.
type Model struct {
	ctrl    Controller
	updates <-chan struct{}
	view    session.View
	spinner spinner.Model
	notice  string
	leaving bool
}

// NewModel subscribes to ctrl and returns the initial model.
func NewModel(ctrl Controller) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return &Model{
		ctrl:    ctrl,
		updates: ctrl.Subscribe(),
		view:    ctrl.Snapshot(),
		spinner: s,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		<-m.updates
		return viewChanged{}
	}
}

func (m *Model) toggle(fn func() (bool, error)) tea.Cmd {
	return func() tea.Msg {
		_, err := fn()
		return actionResult{err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "m":
			return m, m.toggle(m.ctrl.ToggleMic)
		case "c":
			return m, m.toggle(m.ctrl.ToggleCamera)
		case "q", "ctrl+c":
			m.leaving = true
			return m, func() tea.Msg {
				m.ctrl.Leave()
				return tea.Quit()
			}
		}

	case viewChanged:
		m.view = m.ctrl.Snapshot()
		if m.view.State.Terminal() {
			return m, tea.Quit
		}
		return m, m.listen()

	case actionResult:
		m.notice = ""
		if msg.err != nil {
			m.notice = msg.err.Error()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("meshcall " + m.view.RoomID))
	b.WriteString("\n\n")

	status := StatusLine(m.view)
	if !m.view.State.Terminal() && m.view.State != domain.StateConnected {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status + "\n\n")
	b.WriteString(RosterView(m.view) + "\n")

	if m.view.Err != nil {
		b.WriteString("\n" + ErrorStyle.Render(m.view.Err.Error()) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.notice) + "\n")
	}
	if m.leaving {
		b.WriteString(FooterStyle.Render("leaving..."))
	} else {
		b.WriteString(FooterStyle.Render("m mic · c camera · q leave"))
	}
	return b.String()
}

// Run shows the interactive roster until the user leaves or the session ends.
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(NewModel(ctrl), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

// Plain prints a status line and roster whenever the session view changes.
// It returns when the session ends or ctx is done.
func Plain(ctx context.Context, ctrl Controller, w io.Writer) {
	updates := ctrl.Subscribe()
	last := ""
	for {
		v := ctrl.Snapshot()
		out := fmt.Sprintf("%s\n%s\n", StatusLine(v), RosterView(v))
		if out != last {
			fmt.Fprint(w, out)
			last = out
		}
		if v.State.Terminal() {
			return
		}
		select {
		case <-updates:
		case <-ctx.Done():
			return
		}
	}
}
