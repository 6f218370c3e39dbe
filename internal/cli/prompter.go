package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter asks yes/no questions on the terminal for destructive operations
// like rule deletion and cleanup apply.
type Prompter struct {
	reader *LineReader
	writer io.Writer
}

// NewPrompter creates a prompter over the given streams. Nil arguments fall
// back to stdin/stdout.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader: NewLineReader(reader),
		writer: writer,
	}
}

// Confirm asks a yes/no question and reports the answer. Anything other than
// "y" or "yes" declines, and a canceled context declines with
// ErrInputCancelled.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(p.writer, "%s (y/N): ", question)

	answer, err := p.reader.ReadLine(ctx)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
