package testingutils

import (
	"sync"

	"github.com/drivetune/drivetune/internal/protocol"
)

// RecordingCommander records the wire form of every command it is asked to send
type RecordingCommander struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (c *RecordingCommander) Send(cmd protocol.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.commands = append(c.commands, cmd.String())
	return nil
}

// SetErr makes every following Send fail with the given error
func (c *RecordingCommander) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *RecordingCommander) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.commands...)
}

// Last returns the last recorded command, or an empty string
func (c *RecordingCommander) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.commands) == 0 {
		return ""
	}
	return c.commands[len(c.commands)-1]
}
