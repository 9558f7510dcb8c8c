// internal/scpi/command.go
package scpi

import (
	"fmt"
	"strings"
)

// MaxCommandLength is the longest command the instrument accepts
const MaxCommandLength = 128

// Command is one SCPI program message without its terminator
type Command struct {
	text string
}

// Cmd builds a command from a format string
func Cmd(format string, args ...interface{}) Command {
	if len(args) == 0 {
		return Command{text: format}
	}
	return Command{text: fmt.Sprintf(format, args...)}
}

// Text builds a command from literal text, such as a dialect table entry
func Text(text string) Command {
	return Command{text: text}
}

// String returns the command text
func (c Command) String() string { return c.text }

// Len is the number of bytes the command occupies on the wire, terminator excluded
func (c Command) Len() int { return len(c.text) }

// IsQuery reports whether the command expects a response
func (c Command) IsQuery() bool { return strings.HasSuffix(c.text, "?") }

// Validate checks length, character set and leading mnemonic character
func (c Command) Validate() error {
	switch {
	case c.text == "":
		return fmt.Errorf("empty command")
	case len(c.text) > MaxCommandLength:
		return fmt.Errorf("command %.20q... is %d bytes, limit %d", c.text, len(c.text), MaxCommandLength)
	case c.text[0] != ':' && c.text[0] != '*':
		return fmt.Errorf("command %q must start with ':' or '*'", c.text)
	}

	for i := 0; i < len(c.text); i++ {
		if c.text[i] < 0x20 || c.text[i] > 0x7e {
			return fmt.Errorf("command %q contains non printable byte 0x%02x", c.text, c.text[i])
		}
	}
	return nil
}

// wire returns the command with its newline terminator
func (c Command) wire() []byte {
	b := make([]byte, 0, len(c.text)+1)
	b = append(b, c.text...)
	return append(b, '\n')
}
