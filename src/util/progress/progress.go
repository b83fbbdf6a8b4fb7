package progress

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Printer renders restore-job progress as a single updating terminal line.
type Printer struct {
	out         io.Writer
	label       string
	lastPrinted time.Time
	lastWidth   int
}

// NewPrinter creates a progress printer. out may be nil to disable output.
func NewPrinter(out io.Writer, label string) *Printer {
	return &Printer{out: out, label: label}
}

// Update renders the current state; intermediate updates are throttled.
func (p *Printer) Update(state string, percent float64, message string) {
	now := time.Now()
	if now.Sub(p.lastPrinted) < 200*time.Millisecond {
		return
	}
	p.lastPrinted = now
	p.print(state, percent, message)
}

// Finish renders the terminal state and ends the line.
func (p *Printer) Finish(state string, message string) {
	p.print(state, 100, message)
	if p.out != nil {
		fmt.Fprint(p.out, "\n")
	}
}

func (p *Printer) print(state string, percent float64, message string) {
	if p.out == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s", p.label, state)
	if percent > 0 {
		line += fmt.Sprintf(" %.1f%%", percent)
	}
	if message != "" {
		line += " " + message
	}
	// Pad over the previous, possibly longer, line.
	if pad := p.lastWidth - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	p.lastWidth = len(line)
	fmt.Fprintf(p.out, "\r%s", line)
}
