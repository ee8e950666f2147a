// Package render prints deployment progress either as colored columns or as JSON lines.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deployplan"
)

// Mode selects how the console renders
type Mode int

const (
	// ModeHuman prints fixed width colored columns
	ModeHuman Mode = iota

	// ModeJSON prints one JSON record per line
	ModeJSON
)

// Record kinds written in JSON mode
const (
	KindStep       = "step"
	KindPhase      = "phase"
	KindInfo       = "info"
	KindStack      = "stack"
	KindStackError = "stack_error"
	KindError      = "error"
)

// Record is one line of JSON output
type Record struct {
	Timestamp int64       `json:"timestamp"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
}

// Palette follows the usual terminal conventions
var (
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	blue   = lipgloss.Color("39")
	dim    = lipgloss.Color("243")
)

type styles struct {
	success lipgloss.Style
	failure lipgloss.Style
	running lipgloss.Style
	started lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		success: r.NewStyle().Foreground(green),
		failure: r.NewStyle().Foreground(red),
		running: r.NewStyle().Foreground(blue),
		started: r.NewStyle().Foreground(yellow),
		muted:   r.NewStyle().Foreground(dim),
		bold:    r.NewStyle().Bold(true),
	}
}

// Console is the single output sink of a follow
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	mode   Mode
	styles styles
	now    func() time.Time
	wrote  bool
}

// ConsoleOption configures a Console
type ConsoleOption func(*Console, *lipgloss.Renderer)

// WithColor forces colors on or off regardless of the terminal
func WithColor(enabled bool) ConsoleOption {
	return func(_ *Console, r *lipgloss.Renderer) {
		if enabled {
			r.SetColorProfile(termenv.ANSI256)
		} else {
			r.SetColorProfile(termenv.Ascii)
		}
	}
}

// WithClock sets the clock used for records that carry no event time
func WithClock(now func() time.Time) ConsoleOption {
	return func(c *Console, _ *lipgloss.Renderer) {
		c.now = now
	}
}

// NewConsole creates a console writing to out. Colors are only used when
// out is a terminal unless overridden.
func NewConsole(out io.Writer, mode Mode, opts ...ConsoleOption) *Console {
	r := lipgloss.NewRenderer(out)
	if !IsTerminal(out) {
		r.SetColorProfile(termenv.Ascii)
	}

	c := &Console{out: out, mode: mode, now: time.Now}
	for _, opt := range opts {
		opt(c, r)
	}
	c.styles = newStyles(r)
	return c
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Mode returns the render mode
func (c *Console) Mode() Mode {
	return c.mode
}

// Wrote reports whether anything has been printed
func (c *Console) Wrote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrote
}

// Row prints one step row with the step column padded or truncated to width
func (c *Console) Row(row Row, width int) {
	if c.mode == ModeJSON {
		c.record(row.Timestamp, KindStep, map[string]string{
			"stepName": row.StepName,
			"status":   string(row.Status),
			"output":   row.Output,
		})
		return
	}

	name := fitColumn(row.StepName, width)
	status := fmt.Sprintf("%-13s", row.Status)
	prefix := fmt.Sprintf("%s  %s  ", c.styles.muted.Render(row.Timestamp.Local().Format("15:04:05")), c.styles.bold.Render(name))
	indent := strings.Repeat(" ", len("15:04:05")+2+width+2+13+2)

	lines := strings.Split(strings.TrimRight(row.Output, "\n"), "\n")
	var sb strings.Builder
	sb.WriteString(prefix + c.statusStyle(row.Status).Render(status) + "  " + lines[0] + "\n")
	for _, l := range lines[1:] {
		sb.WriteString(indent + l + "\n")
	}
	c.write(sb.String())
}

// Phase prints a phase transition
func (c *Console) Phase(phase, message string) {
	if c.mode == ModeJSON {
		c.record(c.now(), KindPhase, map[string]string{"phase": phase, "message": message})
		return
	}
	c.write(c.styles.muted.Render(message) + "\n")
}

// Info prints an informational message with optional structured data
func (c *Console) Info(message string, data map[string]string) {
	if c.mode == ModeJSON {
		payload := map[string]string{"message": message}
		for k, v := range data {
			payload[k] = v
		}
		c.record(c.now(), KindInfo, payload)
		return
	}

	var sb strings.Builder
	sb.WriteString(c.styles.bold.Render(message) + "\n")
	for _, k := range sortedKeys(data) {
		sb.WriteString(fmt.Sprintf("  %s %s\n", c.styles.muted.Render(k+":"), data[k]))
	}
	c.write(sb.String())
}

// StackStatus prints a stack status transition
func (c *Console) StackStatus(stackName, status, reason string) {
	if c.mode == ModeJSON {
		c.record(c.now(), KindStack, map[string]string{"stackName": stackName, "status": status, "reason": reason})
		return
	}

	line := fmt.Sprintf("%s  %s  %s", c.styles.muted.Render(c.now().Local().Format("15:04:05")), c.styles.bold.Render(stackName), c.stackStyle(status).Render(status))
	if reason != "" {
		line += "  " + reason
	}
	c.write(line + "\n")
}

// Block prints a titled multi-line block, or a structured record in JSON mode
func (c *Console) Block(kind, title string, fields [][2]string) {
	if c.mode == ModeJSON {
		payload := make(map[string]string, len(fields))
		for _, f := range fields {
			payload[f[0]] = f[1]
		}
		c.record(c.now(), kind, payload)
		return
	}

	var sb strings.Builder
	sb.WriteString(c.styles.failure.Render(title) + "\n")
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("  %s %s\n", c.styles.muted.Render(f[0]+":"), f[1]))
	}
	c.write(sb.String())
}

// Success prints a final success line
func (c *Console) Success(message string) {
	if c.mode == ModeJSON {
		c.record(c.now(), KindInfo, map[string]string{"message": message})
		return
	}
	c.write(c.styles.success.Render(message) + "\n")
}

// Failure prints a final failure line
func (c *Console) Failure(message string) {
	if c.mode == ModeJSON {
		c.record(c.now(), KindError, map[string]string{"message": message})
		return
	}
	c.write(c.styles.failure.Render(message) + "\n")
}

func (c *Console) statusStyle(status deployplan.StepStatus) lipgloss.Style {
	switch {
	case status.IsFailure():
		return c.styles.failure
	case status == deployplan.StatusSuccess:
		return c.styles.success
	case status == deployplan.StatusRunning:
		return c.styles.running
	default:
		return c.styles.started
	}
}

func (c *Console) stackStyle(status string) lipgloss.Style {
	switch {
	case strings.HasSuffix(status, "_COMPLETE") && !strings.Contains(status, "ROLLBACK"):
		return c.styles.success
	case strings.HasSuffix(status, "_FAILED") || strings.Contains(status, "ROLLBACK"):
		return c.styles.failure
	default:
		return c.styles.running
	}
}

func (c *Console) record(ts time.Time, kind string, data interface{}) {
	line, err := json.Marshal(Record{Timestamp: ts.UnixMilli(), Type: kind, Data: data})
	if err != nil {
		// Payloads are plain string maps
		return
	}
	c.write(string(line) + "\n")
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
	c.wrote = true
}

// fitColumn pads or truncates s to exactly width runes
func fitColumn(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) > width {
		if width <= 3 {
			return string(runes[:width])
		}
		return string(runes[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-len(runes))
}
