package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"meshcall/native/internal/domain"
	"meshcall/native/internal/session"
)

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func linkLabel(p session.ParticipantView) string {
	switch {
	case p.Unreachable:
		return "unreachable"
	case !p.Linked:
		return "waiting"
	default:
		return p.Connection.String()
	}
}

func streamLabel(p session.ParticipantView) string {
	if !p.HasStream {
		return "-"
	}
	var kinds []string
	if p.HasAudio {
		kinds = append(kinds, string(domain.MediaAudio))
	}
	if p.HasVideo {
		kinds = append(kinds, string(domain.MediaVideo))
	}
	return strings.Join(kinds, "+")
}

// RosterView renders the remote participants as a table.
func RosterView(v session.View) string {
	if len(v.Participants) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	rows := make([][]string, 0, len(v.Participants))
	for _, p := range v.Participants {
		rows = append(rows, []string{
			p.Name(),
			linkLabel(p),
			onOff(p.AudioEnabled),
			onOff(p.VideoEnabled),
			streamLabel(p),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "Link", "Mic", "Cam", "Stream").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// StatusLine summarizes the local side of the call.
func StatusLine(v session.View) string {
	line := fmt.Sprintf("%s in %s as %s | mic %s | cam %s | %d links",
		v.State, v.RoomID, v.UserName, onOff(v.AudioEnabled), onOff(v.VideoEnabled), v.Links)
	switch v.State {
	case domain.StateFailed:
		return ErrorStyle.Render(line)
	case domain.StateConnected:
		return SuccessStyle.Render(line)
	default:
		return WarningStyle.Render(line)
	}
}
