package cli

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureOutput runs fn with os.Stdout redirected and returns what it wrote.
// The pipe is drained concurrently so large help texts cannot block fn.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	stdout := os.Stdout
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = stdout })

	done := make(chan string)
	go func() {
		var sb strings.Builder
		io.Copy(&sb, r) //nolint:errcheck
		done <- sb.String()
	}()

	fn()
	os.Stdout = stdout
	require.NoError(t, w.Close())
	return <-done
}
