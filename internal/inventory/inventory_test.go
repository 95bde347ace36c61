package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInventory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeInventory(t, `
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: jump.example.edu:22
    index: 1
    labels:
      provider: proxmox
    ssh:
      user: deploy
      auth:
        mode: password_env
        password_env: LABFLEET_PASS_LAB1
  - name: lab-2
    address: 10.0.2.10:22
    relay: jump.example.edu:22
    index: 2
    ssh:
      auth:
        mode: key
        key_path: /home/op/.ssh/id_ed25519
`)

	inv, err := Load(path)
	require.NoError(t, err)
	require.Len(t, inv.Targets, 2)

	assert.Equal(t, "lab-1", inv.Targets[0].Name)
	assert.Equal(t, "deploy", inv.Targets[0].SSH.User)
	assert.Equal(t, "proxmox", inv.Targets[0].Labels["provider"])
	assert.Equal(t, 1, inv.Targets[0].Index)

	// defaults applied
	assert.Equal(t, "root", inv.Targets[1].SSH.User)
	assert.NotNil(t, inv.Targets[1].Labels)
	assert.Equal(t, AuthKey, inv.Targets[1].SSH.Auth.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrInventory)
}

func TestLoadMalformed(t *testing.T) {
	path := writeInventory(t, "targets: [this is not: valid yaml\n")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInventory)
}

func TestLoadEmpty(t *testing.T) {
	path := writeInventory(t, "targets: []\n")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInventory)
}

func TestLoadDuplicateName(t *testing.T) {
	path := writeInventory(t, `
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: jump:22
    ssh: {auth: {mode: password_env, password_env: P1}}
  - name: lab-1
    address: 10.0.2.10:22
    relay: jump:22
    ssh: {auth: {mode: password_env, password_env: P2}}
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInventory)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing name": `
targets:
  - address: 10.0.1.10:22
    relay: jump:22
`,
		"missing address": `
targets:
  - name: lab-1
    relay: jump:22
`,
		"missing relay": `
targets:
  - name: lab-1
    address: 10.0.1.10:22
`,
		"password_env without env": `
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: jump:22
    ssh: {auth: {mode: password_env}}
`,
		"key without path": `
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: jump:22
    ssh: {auth: {mode: key}}
`,
		"unknown auth mode": `
targets:
  - name: lab-1
    address: 10.0.1.10:22
    relay: jump:22
    ssh: {auth: {mode: agent}}
`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeInventory(t, body))
			require.ErrorIs(t, err, ErrInventory)
		})
	}
}

func TestSelect(t *testing.T) {
	inv := &Inventory{Targets: []Target{
		{Name: "lab-1"}, {Name: "lab-2"}, {Name: "lab-3"},
	}}

	sub, err := inv.Select([]string{"lab-3", "lab-1"})
	require.NoError(t, err)
	require.Len(t, sub.Targets, 2)
	// inventory order preserved regardless of selection order
	assert.Equal(t, "lab-1", sub.Targets[0].Name)
	assert.Equal(t, "lab-3", sub.Targets[1].Name)
}

func TestSelectUnknown(t *testing.T) {
	inv := &Inventory{Targets: []Target{{Name: "lab-1"}}}
	_, err := inv.Select([]string{"lab-9"})
	require.ErrorIs(t, err, ErrInventory)
}
