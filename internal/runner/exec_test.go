package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRender(t *testing.T) {
	tmpl := Template("run {task_id} {routing} with {prompt} against {db_path}")
	got := tmpl.Render("t1", "codex", "do it", "/tmp/x.db")
	assert.Equal(t, "run t1 codex with do it against /tmp/x.db", got)
}

func TestRun_SuccessWritesLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.log")

	res := Run(context.Background(), "echo hello", "", logPath)

	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.RCPresent)
	assert.NoError(t, res.LaunchErr)
	assert.Contains(t, res.Output, "hello")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestRun_NonZeroExit(t *testing.T) {
	res := Run(context.Background(), "exit 3", "", "")
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, res.RCPresent)
}

func TestRun_MergesStdoutAndStderr(t *testing.T) {
	res := Run(context.Background(), "echo out; echo err 1>&2", "", "")
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
}

func TestPreparePrompt_WritesScratchFile(t *testing.T) {
	dir := t.TempDir()
	path, err := PreparePrompt(dir, "task-1", "hello prompt")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello prompt", string(data))
	assert.Contains(t, path, ".orchestrator")
}
