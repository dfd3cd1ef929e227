// Package notify raises user-visible notifications for push events.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Default title and body for push payloads that omit them.
const (
	DefaultTitle = "Atualização de localização"
	DefaultBody  = "Toque para abrir o aplicativo e sincronizar sua localização."
)

// Notifier raises a user-visible notification.
type Notifier interface {
	// Show displays the notification and blocks until it is dismissed
	// or acted on. Interacting with it opens the app; at most one open
	// action happens per interaction.
	Show(ctx context.Context, title, body string) error
}

// runner executes a host command and returns its trimmed stdout.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(out)), err
}

// Desktop shows notifications through the host's notify-send and opens
// the app URL with xdg-open when the user interacts with one.
type Desktop struct {
	appURL string
	logger *log.Logger
	run    runner
}

// NewDesktop creates a desktop notifier. appURL is opened on
// notification interaction; empty disables the open action.
func NewDesktop(appURL string, logger *log.Logger) *Desktop {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Desktop{appURL: appURL, logger: logger, run: runCommand}
}

// Show implements Notifier. notify-send prints the chosen action key
// when the user interacts with the notification; the notification is
// closed by the host either way.
func (d *Desktop) Show(ctx context.Context, title, body string) error {
	action, err := d.run(ctx, "notify-send",
		"--app-name=taplok", "-A", "default=Abrir", title, body)
	if err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}

	if action == "default" && d.appURL != "" {
		if _, err := d.run(ctx, "xdg-open", d.appURL); err != nil {
			d.logger.Printf("Failed to open app: %v", err)
		}
	}

	return nil
}

// Log is a Notifier for headless hosts; it only records the notification.
type Log struct {
	logger *log.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Log{logger: logger}
}

// Show implements Notifier.
func (l *Log) Show(ctx context.Context, title, body string) error {
	l.logger.Printf("Notification: %s: %s", title, body)
	return nil
}
