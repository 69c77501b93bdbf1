package speech

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// CommandSpeaker speaks through an external TTS program such as espeak or
// macOS say. One process runs per sentence and is killed on cancellation.
type CommandSpeaker struct {
	Command string
	Rate    int
}

// NewCommandSpeaker returns a speaker for command at rate words per minute.
func NewCommandSpeaker(command string, rate int) *CommandSpeaker {
	if command == "" {
		command = "espeak"
	}
	if rate <= 0 {
		rate = 150
	}
	return &CommandSpeaker{Command: command, Rate: rate}
}

// Available reports an error if the command is not on PATH.
func (c *CommandSpeaker) Available() error {
	if _, err := exec.LookPath(c.Command); err != nil {
		return fmt.Errorf("speech command %q not found: %w", c.Command, err)
	}
	return nil
}

func (c *CommandSpeaker) Speak(ctx context.Context, sentence string) error {
	cmd := exec.CommandContext(ctx, c.Command, c.args(sentence)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", c.Command, err, out)
	}
	return nil
}

// args ends option parsing before the sentence so text such as "-5 degrees"
// is spoken rather than read as a flag.
func (c *CommandSpeaker) args(sentence string) []string {
	rate := strconv.Itoa(c.Rate)
	switch filepath.Base(c.Command) {
	case "say":
		return []string{"-r", rate, "--", sentence}
	default:
		return []string{"-s", rate, "--", sentence}
	}
}
