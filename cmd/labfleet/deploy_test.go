package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tastythames/labfleet/internal/report"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseSets(t *testing.T) {
	vars, err := parseSets([]string{"provider=proxmox", "lab=GOAD"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"provider": "proxmox", "lab": "GOAD"}, vars)

	_, err = parseSets([]string{"novalue"})
	require.Error(t, err)

	_, err = parseSets([]string{"=x"})
	require.Error(t, err)
}

func TestDeployRequiresCommand(t *testing.T) {
	_, err := runCLI(t, "deploy", "--inventory", "nope.yaml", "--command", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--command")
}

func TestDeployBadInventoryAbortsBeforeAnyJob(t *testing.T) {
	dir := t.TempDir()
	invPath := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(invPath, []byte(`
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: jump:22
    ssh: {auth: {mode: password_env, password_env: P1}}
  - name: lab-1
    address: 10.0.2.10:22
    relay: jump:22
    ssh: {auth: {mode: password_env, password_env: P2}}
`), 0o644))

	logDir := filepath.Join(dir, "logs")
	_, err := runCLI(t, "deploy",
		"--inventory", invPath,
		"--command", "true",
		"--log-dir", logDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	// no run artifacts: the failure happened before any job was created
	_, statErr := os.Stat(logDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeployBadTemplateAbortsBeforeAnyJob(t *testing.T) {
	dir := t.TempDir()
	invPath := writeSingleTargetInventory(t, dir, "127.0.0.1:1")

	logDir := filepath.Join(dir, "logs")
	_, err := runCLI(t, "deploy",
		"--inventory", invPath,
		"--command", "deploy {{.Vars.provider}}", // provider never given via --set
		"--log-dir", logDir)
	require.Error(t, err)

	_, statErr := os.Stat(logDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeployFailedFromAndTargetsExclusive(t *testing.T) {
	_, err := runCLI(t, "deploy",
		"--command", "true",
		"--failed-from", "x.yaml",
		"--targets", "lab-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestDeployUnreachableRelayProducesSummary(t *testing.T) {
	dir := t.TempDir()
	// 127.0.0.1:1 refuses immediately, so the single attempt fails fast
	invPath := writeSingleTargetInventory(t, dir, "127.0.0.1:1")
	t.Setenv("LABFLEET_TEST_PASS", "secret")

	logDir := filepath.Join(dir, "logs")
	out, err := runCLI(t, "deploy",
		"--inventory", invPath,
		"--command", "true",
		"--log-dir", logDir,
		"--retries", "0",
		"--timeout", "5s",
		"--stagger", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")
	assert.Contains(t, out, "Failed:")

	entries, readErr := os.ReadDir(logDir)
	require.NoError(t, readErr)

	var summaryPath string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".yaml" {
			summaryPath = filepath.Join(logDir, e.Name())
		}
	}
	require.NotEmpty(t, summaryPath, "summary file missing")

	s, err := report.LoadSummary(summaryPath)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, []string{"lab-1"}, s.FailedTargets)
	require.Len(t, s.Targets, 1)
	assert.Equal(t, 1, s.Targets[0].Attempts)
	assert.Equal(t, "relay unreachable", s.Targets[0].ErrorKind)
}

func TestDeployFailedFromEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	invPath := writeSingleTargetInventory(t, dir, "127.0.0.1:1")

	prev := &report.Summary{Total: 1, Succeeded: 1}
	prevPath := filepath.Join(dir, "summary.yaml")
	require.NoError(t, prev.WriteFile(prevPath))

	_, err := runCLI(t, "deploy",
		"--inventory", invPath,
		"--command", "true",
		"--log-dir", filepath.Join(dir, "logs"),
		"--failed-from", prevPath)
	require.NoError(t, err)
}

func writeSingleTargetInventory(t *testing.T, dir, relay string) string {
	t.Helper()
	path := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: `+relay+`
    ssh:
      user: deploy
      auth: {mode: password_env, password_env: LABFLEET_TEST_PASS}
`), 0o644))
	return path
}
