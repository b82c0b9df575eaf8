// Package notify delivers alarm notifications and plays the alarm sound.
package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"break-scheduler/models"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a notification somewhere the agent will see it.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n models.Notification) error {
	ev := log.Info().
		Str("notificationId", n.ID).
		Str("kind", string(n.Kind)).
		Str("agentId", n.AgentID)
	if n.Event != nil {
		ev = ev.Str("event", n.Event.Kind.String()).Time("at", n.Event.At)
	}
	if n.Description != "" {
		ev = ev.Str("description", n.Description)
	}
	ev.Msg(n.Title)
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// tried; the failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// NopPlayer plays nothing.
type NopPlayer struct{}

func (NopPlayer) Play(context.Context, int) error { return nil }

// CommandPlayer plays the alarm by running an external command, e.g.
// "paplay --volume={volume65536} /usr/share/sounds/alarm.oga".
//
// The placeholders {volume} (0-100), {volume65536} and {volumeFraction}
// (0.00-1.00) are replaced in each argument.
type CommandPlayer struct {
	Command []string
}

// NewCommandPlayer splits a command line on whitespace.
func NewCommandPlayer(command string) *CommandPlayer {
	return &CommandPlayer{Command: strings.Fields(command)}
}

func (p *CommandPlayer) Play(ctx context.Context, volume int) error {
	if len(p.Command) == 0 {
		return fmt.Errorf("no sound command configured")
	}
	if volume <= 0 {
		return nil
	}
	args := make([]string, len(p.Command))
	r := strings.NewReplacer(
		"{volume}", strconv.Itoa(volume),
		"{volume65536}", strconv.Itoa(volume*65536/100),
		"{volumeFraction}", strconv.FormatFloat(float64(volume)/100, 'f', 2, 64),
	)
	for i, a := range p.Command {
		args[i] = r.Replace(a)
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sound command %q: %w (%s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
