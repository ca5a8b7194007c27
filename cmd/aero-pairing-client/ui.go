package main

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

var (
	accent  = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")

	selfStyle     = lipgloss.NewStyle().Foreground(accent).Bold(true)
	strangerStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	systemStyle   = lipgloss.NewStyle().Foreground(muted).Italic(true)
	warningStyle  = lipgloss.NewStyle().Foreground(warning)
	errorStyle    = lipgloss.NewStyle().Foreground(danger).Bold(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB")).Background(accent).Padding(0, 1).Bold(true)
)

// transcript serialises output from the event loop and the input loop.
type transcript struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *transcript) line(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}

func (t *transcript) self(msg string) {
	t.line(selfStyle.Render("You: ") + msg)
}

func (t *transcript) stranger(msg string) {
	t.line(strangerStyle.Render("Stranger: ") + msg)
}

func (t *transcript) system(msg string) {
	t.line(systemStyle.Render(msg))
}

func (t *transcript) warn(msg string) {
	t.line(warningStyle.Render(msg))
}

func (t *transcript) alert(msg string) {
	t.line(errorStyle.Render(msg))
}

func (t *transcript) status(label string) {
	t.line(statusStyle.Render(label))
}

func newTable(out io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault
	return tw
}

func renderStats(out io.Writer, s protocol.Stats) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Online", s.Online},
		{"Waiting", s.Waiting},
		{"Chatting", s.Chatting},
	})
	tw.Render()
}

func renderRooms(out io.Writer, rooms []coordinator.RoomView, queue int) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"#", "Room", "Users", "Created", "Duration"})
	for i, r := range rooms {
		users := ""
		for j, u := range r.Users {
			if j > 0 {
				users += "\n"
			}
			users += u
		}
		tw.AppendRow(table.Row{
			i + 1,
			r.ID,
			users,
			time.UnixMilli(r.CreatedAt).Format(time.RFC3339),
			(time.Duration(r.Duration) * time.Millisecond).Round(time.Second).String(),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "Rooms " + strconv.Itoa(len(rooms)), "Queue " + strconv.Itoa(queue)})
	tw.Render()
}
