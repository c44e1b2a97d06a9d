package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/crucible-runner/internal/registry"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

const (
	tagWidth  = 7
	separator = "================================"
)

// Console streams tagged lines as tests start and finish, then prints the
// totals block.
type Console struct {
	w       io.Writer
	verbose bool

	startStyle lipgloss.Style
	passStyle  lipgloss.Style
	failStyle  lipgloss.Style
	skipStyle  lipgloss.Style
	lostStyle  lipgloss.Style
	infoStyle  lipgloss.Style
}

// NewConsole creates a console reporter. Colors are dropped automatically
// when w is not a terminal. Verbose adds worker lifecycle lines.
func NewConsole(w io.Writer, verbose bool) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:          w,
		verbose:    verbose,
		startStyle: r.NewStyle().Foreground(lipgloss.Color("244")),
		passStyle:  r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		failStyle:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		skipStyle:  r.NewStyle().Foreground(lipgloss.Color("214")),
		lostStyle:  r.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		infoStyle:  r.NewStyle(),
	}
}

func (c *Console) line(style lipgloss.Style, tag, format string, args ...any) {
	padded := fmt.Sprintf("%-*s", tagWidth, tag)
	fmt.Fprintf(c.w, "crucible: %s: %s\n", style.Render(padded), fmt.Sprintf(format, args...))
}

func (c *Console) outcomeStyle(o testcase.Outcome) lipgloss.Style {
	switch o {
	case testcase.Pass:
		return c.passStyle
	case testcase.Fail:
		return c.failStyle
	default:
		return c.skipStyle
	}
}

func (c *Console) RunStarted(total int) {
	c.line(c.infoStyle, "info", "running %d tests", total)
	c.line(c.infoStyle, "info", separator)
}

func (c *Console) TestStarted(def *registry.Definition) {
	c.line(c.startStyle, "start", "%s", def.Name)
}

func (c *Console) TestFinished(def *registry.Definition, outcome testcase.Outcome, elapsed time.Duration) {
	if c.verbose && elapsed > 0 {
		c.line(c.outcomeStyle(outcome), outcome.String(), "%s (%s)", def.Name, elapsed.Round(time.Millisecond))
		return
	}
	c.line(c.outcomeStyle(outcome), outcome.String(), "%s", def.Name)
}

func (c *Console) TestLost(def *registry.Definition) {
	c.line(c.lostStyle, "lost", "%s", def.Name)
}

func (c *Console) WorkerSpawned(pid int) {
	if c.verbose {
		c.line(c.infoStyle, "info", "spawned worker pid %d", pid)
	}
}

func (c *Console) WorkerReaped(pid int, status string) {
	if c.verbose {
		c.line(c.infoStyle, "info", "reaped worker pid %d: %s", pid, status)
	}
}

func (c *Console) Interrupted(stage InterruptStage) {
	switch stage {
	case InterruptCancel:
		c.line(c.lostStyle, "warning", "interrupted: killed running tests, interrupt again to stop the run")
	case InterruptAbort:
		c.line(c.lostStyle, "warning", "interrupted twice: stopping the run")
	}
}

func (c *Console) RunFinished(t Totals) {
	c.line(c.infoStyle, "info", separator)
	c.line(c.infoStyle, "info", "ran %d tests", t.Total)
	c.line(c.infoStyle, "info", "pass %d", t.Passed)
	c.line(c.infoStyle, "info", "fail %d", t.Failed)
	c.line(c.infoStyle, "info", "skip %d", t.Skipped)
	c.line(c.infoStyle, "info", "lost %d", t.Lost)
}
