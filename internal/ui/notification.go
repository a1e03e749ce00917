package ui

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// For a list of possible icons, see: https://specifications.freedesktop.org/icon-naming-spec/icon-naming-spec-latest.html
const (
	IconDialogError = "dialog-error"
	IconDialogInfo  = "dialog-information"
	IconDialogWarn  = "dialog-warning"

	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyCritical = "critical"
)

var notificationsEnabled = true

// SetNotificationsEnabled toggles desktop notifications, e.g. for headless use
func SetNotificationsEnabled(enabled bool) {
	notificationsEnabled = enabled
}

func NotifyInfo(title, text string) {
	NotifySend(UrgencyLow, title, text, IconDialogInfo)
}

func NotifyWarn(title, text string) {
	NotifySend(UrgencyNormal, title, text, IconDialogWarn)
}

func NotifyError(title, text string) {
	NotifySend(UrgencyCritical, title, text, IconDialogError)
}

// NotifySend shows a desktop notification, e.g. when an autotune run aborts while the console
// is in the background. Without a display session only a debug line is logged.
func NotifySend(urgency, title, text, icon string) {
	if !notificationsEnabled {
		return
	}
	display, exists := os.LookupEnv("DISPLAY")
	if !exists {
		Debug("Cannot send notification, missing env variable 'DISPLAY'")
		return
	}

	args := []string{"-a", "drivetune", "-u", urgency, "-i", icon, title, text}
	var cmd *exec.Cmd
	if os.Geteuid() == 0 {
		// a root session has to hand the notification to the owner of the display
		user, userId, err := displayUser(display)
		if err != nil {
			Warning("Cannot send notification: %v", err)
			return
		}
		cmd = exec.Command("sudo", append([]string{"-u", user,
			"DISPLAY=" + display,
			"DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/" + userId + "/bus",
			"notify-send"}, args...)...)
	} else {
		cmd = exec.Command("notify-send", args...)
	}

	if err := cmd.Run(); err != nil {
		Debug("Error sending notification: %v", err)
	}
}

func displayUser(display string) (user string, userId string, err error) {
	output, err := exec.Command("who").Output()
	if err != nil {
		return "", "", fmt.Errorf("unable to find user of display session: %w", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && strings.Contains(line, display) {
			user = fields[0]
			break
		}
	}
	if user == "" {
		return "", "", fmt.Errorf("unable to detect user of display %s", display)
	}

	output, err = exec.Command("id", "-u", user).Output()
	userId = strings.TrimSpace(string(output))
	if err != nil || userId == "" {
		return "", "", fmt.Errorf("unable to detect user id of %s: %v", user, err)
	}
	return user, userId, nil
}
