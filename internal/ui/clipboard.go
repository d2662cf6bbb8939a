package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"golang.design/x/clipboard"
)

// ClipboardWriter provides cross-platform clipboard access with graceful
// degradation. The native clipboard is preferred; headless Linux sessions
// fall back to xclip, xsel or wl-copy.
type ClipboardWriter struct {
	native    bool
	command   []string
	available bool
	errMsg    string
}

// NewClipboardWriter creates a new ClipboardWriter and checks availability.
func NewClipboardWriter() *ClipboardWriter {
	cw := &ClipboardWriter{}
	if err := clipboard.Init(); err == nil {
		cw.native = true
		cw.available = true
		return cw
	}
	cw.command, cw.errMsg = lookupClipboardCommand(runtime.GOOS, exec.LookPath)
	cw.available = cw.command != nil
	return cw
}

// lookupClipboardCommand picks the first installed clipboard tool for goos.
func lookupClipboardCommand(goos string, lookPath func(string) (string, error)) ([]string, string) {
	var candidates [][]string
	switch goos {
	case "darwin":
		candidates = [][]string{{"pbcopy"}}
	case "linux", "freebsd", "openbsd":
		candidates = [][]string{
			{"xclip", "-selection", "clipboard"},
			{"xsel", "--clipboard", "--input"},
			{"wl-copy"},
		}
	case "windows":
		candidates = [][]string{{"clip"}}
	default:
		return nil, fmt.Sprintf("unsupported platform: %s", goos)
	}

	for _, c := range candidates {
		if _, err := lookPath(c[0]); err == nil {
			return c, ""
		}
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c[0]
	}
	return nil, "clipboard tool not found (install " + strings.Join(names, ", ") + ")"
}

// IsAvailable returns whether clipboard operations are supported.
func (cw *ClipboardWriter) IsAvailable() bool {
	return cw.available
}

// Error returns the reason clipboard is unavailable.
func (cw *ClipboardWriter) Error() string {
	return cw.errMsg
}

// Write copies text to the system clipboard.
func (cw *ClipboardWriter) Write(text string) error {
	if !cw.available {
		return fmt.Errorf("clipboard unavailable: %s", cw.errMsg)
	}
	if cw.native {
		clipboard.Write(clipboard.FmtText, []byte(text))
		return nil
	}

	cmd := exec.Command(cw.command[0], cw.command[1:]...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}
