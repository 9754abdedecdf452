package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("debug_hidden_unless_verbose", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Debug("hidden")
		log.Info("shown", "table", "12411-01-01-4")
		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), "shown")
		require.Contains(t, buf.String(), "12411-01-01-4")
	})

	t.Run("drops_empty_string_attrs", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, true)
		log.Debug("message", "empty", "")
		require.Contains(t, buf.String(), "message")
		require.NotContains(t, buf.String(), "empty=")
	})
}
