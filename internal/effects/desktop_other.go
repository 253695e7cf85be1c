//go:build !linux && !darwin

package effects

func notifyCommand(title, body, urgency string) (string, []string) {
	return "", nil
}
