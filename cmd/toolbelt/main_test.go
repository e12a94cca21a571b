package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/server/httpapi"
	"github.com/entrhq/toolbelt/pkg/tools"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`workspace:
  path: %s
  restrict: true
cron:
  store: file
  path: %s
logging:
  dir: %s
heartbeat:
  enabled: false
%s`, filepath.Join(dir, "ws"), filepath.Join(dir, "jobs.json"), filepath.Join(dir, "logs"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))
	return path
}

func execute(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, writeConfig(t, ""), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "toolbelt v"+version+"\n", out)
}

func TestToolsJSON(t *testing.T) {
	out, err := execute(t, writeConfig(t, ""), "", "tools", "--json")
	require.NoError(t, err)

	var descs []tools.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &descs))
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "read_file")
	assert.Contains(t, names, "cron")
	assert.Contains(t, names, "spawn")
}

func TestInvokeRoundTrip(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, cfg, "", "invoke", "write_file", "--args", `{"path":"notes.md","content":"remember the milk"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully wrote")

	xml := "<tool><tool_name>read_file</tool_name><arguments><path>notes.md</path></arguments></tool>"
	out, err = execute(t, cfg, xml, "invoke", "--xml", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "remember the milk")
}

func TestInvokeFailureExitsNonZero(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, cfg, "", "invoke", "read_file", "--args", `{"path":"../../etc/passwd"}`)
	assert.ErrorIs(t, err, errToolFailed)
	assert.Contains(t, out, "Error (path_outside_workspace)")

	_, err = execute(t, writeConfig(t, ""), "", "invoke", "no_such_tool")
	assert.ErrorIs(t, err, errToolFailed)
}

func TestInvocationFrom(t *testing.T) {
	inv, err := invocationFrom(nil, []string{"exec"}, `{"command":"ls"}`, "")
	require.NoError(t, err)
	assert.Equal(t, "exec", inv.Tool)
	assert.Equal(t, "ls", inv.Args["command"])

	_, err = invocationFrom(nil, nil, "", "")
	assert.Error(t, err)

	_, err = invocationFrom(nil, []string{"exec"}, `[1]`, "")
	assert.Error(t, err)

	_, err = invocationFrom(nil, []string{"exec"}, "", "<tool><tool_name>exec</tool_name></tool>")
	assert.Error(t, err, "--xml excludes a positional tool name")
}

func TestCronCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, cfg, "", "cron", "add", "--name", "standup", "-m", "time for standup", "--every", "3600")
	require.NoError(t, err)
	assert.Contains(t, out, "Created job 'standup'")

	out, err = execute(t, cfg, "", "cron", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "standup")
	assert.Contains(t, out, "every")

	_, err = execute(t, cfg, "", "cron", "add", "-m", "no schedule")
	assert.ErrorIs(t, err, errToolFailed)

	out, err = execute(t, cfg, "", "cron", "remove", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")
}

func TestToken(t *testing.T) {
	_, err := execute(t, writeConfig(t, ""), "", "token")
	assert.Error(t, err, "no secret configured")

	out, err := execute(t, writeConfig(t, "server:\n  jwt_secret: k\n"), "", "token", "--subject", "ci")
	require.NoError(t, err)
	claims, err := httpapi.ParseToken("k", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}
