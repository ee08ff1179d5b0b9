package cli

import (
	"bytes"
	"os"
	"strconv"
	"testing"

	"github.com/harun/novellama/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		startCmd := cmd.Commands()

		found := false
		for _, c := range startCmd {
			if c.Name() == "start" {
				found = true
				break
			}
		}
		assert.True(t, found, "start command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"start", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "Start the novellama translation server")
	})

	t.Run("refuses when already running", func(t *testing.T) {
		tmpDir := t.TempDir()
		setTestFlags(t, tmpDir, "")
		t.Setenv("NOVELLAMA_COMPLETION_API_KEY", "sk-test")

		pidFile := daemon.PIDFilePath(tmpDir)
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0600))

		err := runStart(startCmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		tmpDir := t.TempDir()
		setTestFlags(t, tmpDir, "")
		t.Setenv("NOVELLAMA_SERVER_PORT", "70000")

		err := runStart(startCmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})
}
