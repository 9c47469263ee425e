package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ConsolePrinter echoes server output and bridge activity to the operator's
// terminal.
type ConsolePrinter struct {
	mu  sync.Mutex
	out io.Writer

	warn    lipgloss.Style
	err     lipgloss.Style
	bridged lipgloss.Style
	notice  lipgloss.Style
}

func NewConsolePrinter(out io.Writer, color bool) *ConsolePrinter {
	renderer := lipgloss.NewRenderer(out)
	p := &ConsolePrinter{
		out:     out,
		warn:    renderer.NewStyle(),
		err:     renderer.NewStyle(),
		bridged: renderer.NewStyle(),
		notice:  renderer.NewStyle(),
	}
	if color {
		p.warn = p.warn.Foreground(lipgloss.Color("11"))
		p.err = p.err.Foreground(lipgloss.Color("9"))
		p.bridged = p.bridged.Foreground(lipgloss.Color("13"))
		p.notice = p.notice.Bold(true)
	}
	return p
}

// Print writes one server line. Parsed lines drop the thread name.
func (p *ConsolePrinter) Print(event ServerEvent) {
	line := event.Raw
	if event.Header.Parsed {
		line = fmt.Sprintf("[%s] [%s]: %s", event.Header.Clock, event.Header.Level, event.Header.Message)
	}

	style := lipgloss.Style{}
	styled := false
	switch event.Header.Level {
	case "WARN":
		style, styled = p.warn, true
	case "ERROR", "FATAL", "SEVERE":
		style, styled = p.err, true
	}
	if !event.Header.Parsed && event.Stream == StreamStderr {
		style, styled = p.err, true
	}
	if styled {
		line = style.Render(line)
	}
	p.writeLine(line)
}

// Bridged echoes a chat message that was shown to players with tellraw.
func (p *ConsolePrinter) Bridged(m BridgeMessage) {
	p.writeLine(p.bridged.Render(consoleEcho(m)))
}

// Notice prints a wrapper message such as a command reply.
func (p *ConsolePrinter) Notice(text string) {
	p.writeLine(p.notice.Render(text))
}

func (p *ConsolePrinter) writeLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}
