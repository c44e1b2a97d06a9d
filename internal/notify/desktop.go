package notify

import (
	"os/exec"
	"runtime"
)

// desktopListed caps the failing tests named in a desktop popup.
const desktopListed = 3

// appleScript takes title and body as arguments so test names never need
// quoting inside the script.
const appleScript = `on run argv
	display notification (item 2 of argv) with title (item 1 of argv)
end run`

// DesktopNotifier pops up run summaries through the desktop environment
type DesktopNotifier struct {
	enabled bool
	goos    string
	// command builds the process to run; replaced in tests.
	command func(name string, args ...string) *exec.Cmd
}

// NewDesktopNotifier creates a desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled, goos: runtime.GOOS, command: exec.Command}
}

// Send shows n. Platforms without a notifier are ignored.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	body := n.Message
	if n.Run != nil && len(n.Run.Failing) > 0 {
		body += "\n" + shortList(n.Run.Failing, desktopListed)
	}

	var cmd *exec.Cmd
	switch d.goos {
	case "darwin":
		cmd = d.command("osascript", "-e", appleScript, n.Title, body)
	case "linux":
		cmd = d.command("notify-send",
			"--app-name=crucible",
			"--urgency="+urgency(n.Level),
			"--icon="+icon(n.Level),
			n.Title, body)
	default:
		return nil
	}
	return cmd.Run()
}

func urgency(l Level) string {
	switch l {
	case LevelError:
		return "critical"
	case LevelWarning:
		return "normal"
	default:
		return "low"
	}
}

func icon(l Level) string {
	switch l {
	case LevelSuccess:
		return "dialog-positive"
	case LevelWarning:
		return "dialog-warning"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
