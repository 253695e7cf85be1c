//go:build linux

package effects

func notifyCommand(title, body, urgency string) (string, []string) {
	return "notify-send", []string{"--urgency", urgency, "--app-name", appName, title, body}
}
