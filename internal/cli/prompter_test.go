package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "yes", input: "yes\n", want: true},
		{name: "y", input: "y\n", want: true},
		{name: "uppercase", input: "Y\n", want: true},
		{name: "no", input: "n\n", want: false},
		{name: "empty defaults to no", input: "\n", want: false},
		{name: "garbage defaults to no", input: "sure\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			prompter := NewPrompter(strings.NewReader(tt.input), &out)

			got, err := prompter.Confirm(context.Background(), "Delete 3 rules?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "(y/N)")
		})
	}
}

func TestConfirmCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never produces input.
	prompter := NewPrompter(blockingReader{}, &bytes.Buffer{})

	_, err := prompter.Confirm(ctx, "Continue?")
	assert.ErrorIs(t, err, ErrInputCancelled)
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	time.Sleep(10 * time.Second)
	return 0, nil
}
