// Package presenter renders user-facing CLI output: status messages,
// section headers and registry events, with color and quiet mode support.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/jingkaihe/skillreg/pkg/events"
)

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Event(ev events.Event)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto lets the color package detect terminal support
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output
	ColorAlways
	// ColorNever disables colored output
	ColorNever
)

// New creates a TerminalPresenter writing to stdout and stderr
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom writers and color mode
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}

	return &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
	}
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLREG_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error writes an error to stderr. Errors are shown in quiet mode too.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a warning message
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays an underlined header
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	header := color.New(color.Bold)
	header.Fprintf(p.output, "%s\n", title)
	header.Fprintf(p.output, "%s\n", strings.Repeat("-", len(title)))
}

var eventColors = map[events.Type]color.Attribute{
	events.TypeAdd:               color.FgGreen,
	events.TypeSkillRegistered:   color.FgGreen,
	events.TypeChange:            color.FgCyan,
	events.TypeSkillUpdated:      color.FgCyan,
	events.TypeUnlink:            color.FgMagenta,
	events.TypeSkillUnregistered: color.FgMagenta,
	events.TypeSkillEnabled:      color.FgBlue,
	events.TypeSkillDisabled:     color.FgBlue,
	events.TypeConflictDetected:  color.FgYellow,
	events.TypeDependencyError:   color.FgRed,
	events.TypeError:             color.FgRed,
}

// Event writes a one-line rendering of a registry or watcher event. Error
// events go to stderr and ignore quiet mode.
func (p *TerminalPresenter) Event(ev events.Event) {
	if ev.Type != events.TypeError && p.quiet {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", ev.Time.Format("15:04:05"), ev.Type)
	if ev.SkillID != "" {
		fmt.Fprintf(&b, " %s", ev.SkillID)
	}
	if ev.Path != "" {
		fmt.Fprintf(&b, " (%s)", ev.Path)
	}
	for _, c := range ev.Conflicts {
		fmt.Fprintf(&b, " trigger %q claimed by %s;", c.Trigger, strings.Join(c.SkillIDs, ", "))
	}
	if len(ev.Missing) > 0 {
		fmt.Fprintf(&b, " missing: %s", strings.Join(ev.Missing, ", "))
	}
	if ev.Err != nil {
		fmt.Fprintf(&b, ": %v", ev.Err)
	}

	out := p.output
	if ev.Type == events.TypeError {
		out = p.errorOutput
	}
	attr, ok := eventColors[ev.Type]
	if !ok {
		attr = color.Reset
	}
	color.New(attr).Fprintln(out, b.String())
}

// Separator displays a horizontal rule
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter Presenter = New()

// SetDefault replaces the package-level presenter and returns the previous one
func SetDefault(p Presenter) Presenter {
	prev := defaultPresenter
	defaultPresenter = p
	return prev
}

// Error displays an error using the default presenter
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning using the default presenter
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter
func Section(title string) {
	defaultPresenter.Section(title)
}

// Event displays an event using the default presenter
func Event(ev events.Event) {
	defaultPresenter.Event(ev)
}

// Separator displays a separator using the default presenter
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet toggles quiet mode on the default presenter
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet reports whether the default presenter is quiet
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
