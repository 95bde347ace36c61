// Package command builds the remote provisioning invocation for each target.
//
// The operator supplies one command template; per-target values are
// substituted through text/template in strict mode so a typo in a placeholder
// or a missing label fails before any job is created, not on a remote shell.
package command

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/tastythames/labfleet/internal/inventory"
)

// Data is the substitution namespace available to a command template.
type Data struct {
	Name   string
	Host   string
	Index  int
	Labels map[string]string
	Vars   map[string]string
}

type Template struct {
	text string
	tpl  *template.Template
}

func Parse(text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("command template is empty")
	}
	tpl, err := template.New("command").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	return &Template{text: text, tpl: tpl}, nil
}

// Render produces the literal remote command for one target. vars are
// operator-supplied --set values shared across the fleet.
func (t *Template) Render(target inventory.Target, vars map[string]string) (string, error) {
	host := target.Address
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	if vars == nil {
		vars = map[string]string{}
	}

	var b strings.Builder
	err := t.tpl.Execute(&b, Data{
		Name:   target.Name,
		Host:   host,
		Index:  target.Index,
		Labels: target.Labels,
		Vars:   vars,
	})
	if err != nil {
		return "", fmt.Errorf("render command for %s: %w", target.Name, err)
	}

	cmd := b.String()
	if strings.TrimSpace(cmd) == "" {
		return "", fmt.Errorf("render command for %s: empty result", target.Name)
	}
	if strings.ContainsAny(cmd, "\n\r") {
		return "", fmt.Errorf("render command for %s: rendered command spans multiple lines", target.Name)
	}
	return cmd, nil
}

func (t *Template) String() string { return t.text }
