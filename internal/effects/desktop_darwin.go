//go:build darwin

package effects

import (
	"fmt"
	"strings"
)

func notifyCommand(title, body, urgency string) (string, []string) {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(title))
	return "osascript", []string{"-e", script}
}

// escapeAppleScript escapes characters that could break AppleScript strings.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
