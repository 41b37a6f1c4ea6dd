package util

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProcessRunning(t *testing.T) {
	t.Run("own process", func(t *testing.T) {
		assert.True(t, IsProcessRunning(os.Getpid()))
	})

	t.Run("invalid pids", func(t *testing.T) {
		assert.False(t, IsProcessRunning(0))
		assert.False(t, IsProcessRunning(-1))
	})

	t.Run("nonexistent pid", func(t *testing.T) {
		// Close to the default pid_max; extremely unlikely to be live.
		assert.False(t, IsProcessRunning(4194000))
	})
}
