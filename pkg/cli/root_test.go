package cli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn with os.Stdout redirected and returns what it printed
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	os.Args = append([]string{"wharf"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "wharf", root.Name)
	assert.Equal(t, "Wharf - A pluggable package registry server", root.Description)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"serve", "plan", "modules"}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName].Run)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	var err error
	output := captureStdout(t, func() { err = root.usage() })

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: wharf <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "serve")
	assert.Contains(t, output, "plan")
	assert.Contains(t, output, "modules")

	// Sorted, so the listing is stable
	assert.Less(t, strings.Index(output, "modules"), strings.Index(output, "serve"))
}

func TestCommandExecute_NoArgs(t *testing.T) {
	root := NewRootCommand()
	withArgs(t)

	var err error
	output := captureStdout(t, func() { err = root.Execute() })

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: wharf <command> [args]")
}

func TestCommandExecute_HelpFlag(t *testing.T) {
	for _, flag := range []string{"-h", "-H", "--help", "--HELP", "--Help"} {
		t.Run(flag, func(t *testing.T) {
			root := NewRootCommand()
			withArgs(t, flag)

			var err error
			output := captureStdout(t, func() { err = root.Execute() })

			assert.NoError(t, err)
			assert.Contains(t, output, "Usage: wharf <command> [args]")
		})
	}
}

func TestCommandExecute_SubcommandWithArgs(t *testing.T) {
	root := NewRootCommand()

	var receivedArgs []string
	root.Subcommands["test"] = &Command{
		Name:        "test",
		Description: "Test command",
		Run: func(args []string) error {
			receivedArgs = args
			return nil
		},
	}
	withArgs(t, "test", "arg1", "--config", "wharf.yaml")

	require.NoError(t, root.Execute())
	assert.Equal(t, []string{"arg1", "--config", "wharf.yaml"}, receivedArgs)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	root := NewRootCommand()
	withArgs(t, "nonexistent")

	err := root.Execute()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}
