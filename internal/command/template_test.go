package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tastythames/labfleet/internal/inventory"
)

func TestRender(t *testing.T) {
	tpl, err := Parse(`cd /opt/goad && python3 goad.py -p {{.Vars.provider}} -l {{.Labels.lab}} -m local # {{.Name}}@{{.Host}} net {{.Index}}`)
	require.NoError(t, err)

	cmd, err := tpl.Render(inventory.Target{
		Name:    "lab-7",
		Address: "10.0.7.10:22",
		Index:   7,
		Labels:  map[string]string{"lab": "GOAD"},
	}, map[string]string{"provider": "proxmox"})
	require.NoError(t, err)

	assert.Equal(t, "cd /opt/goad && python3 goad.py -p proxmox -l GOAD -m local # lab-7@10.0.7.10 net 7", cmd)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("  ")
	require.Error(t, err)
}

func TestParseBadSyntax(t *testing.T) {
	_, err := Parse("echo {{.Name")
	require.Error(t, err)
}

func TestRenderMissingVar(t *testing.T) {
	tpl, err := Parse("deploy --provider {{.Vars.provider}}")
	require.NoError(t, err)

	_, err = tpl.Render(inventory.Target{Name: "lab-1", Address: "10.0.1.10:22"}, nil)
	require.Error(t, err)
}

func TestRenderMissingLabel(t *testing.T) {
	tpl, err := Parse("deploy --lab {{.Labels.lab}}")
	require.NoError(t, err)

	_, err = tpl.Render(inventory.Target{
		Name:    "lab-1",
		Address: "10.0.1.10:22",
		Labels:  map[string]string{},
	}, nil)
	require.Error(t, err)
}

func TestRenderRejectsMultiline(t *testing.T) {
	tpl, err := Parse("echo {{.Labels.x}}")
	require.NoError(t, err)

	_, err = tpl.Render(inventory.Target{
		Name:    "lab-1",
		Address: "10.0.1.10:22",
		Labels:  map[string]string{"x": "a\nrm -rf /"},
	}, nil)
	require.Error(t, err)
}

func TestRenderHostStripsPort(t *testing.T) {
	tpl, err := Parse("ping {{.Host}}")
	require.NoError(t, err)

	cmd, err := tpl.Render(inventory.Target{Name: "lab-1", Address: "10.0.1.10:2222"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ping 10.0.1.10", cmd)
}
