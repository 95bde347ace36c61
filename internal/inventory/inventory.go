package inventory

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInventory marks fatal inventory problems. A run never starts on a bad
// inventory; callers check with errors.Is.
var ErrInventory = errors.New("inventory error")

type Inventory struct {
	Targets []Target `yaml:"targets"`
}

// Target is one remote host to provision. Targets are reachable only through
// their relay (jump) host; Address is the destination as seen from the relay.
type Target struct {
	Name    string            `yaml:"name"`
	Address string            `yaml:"address"`
	Relay   string            `yaml:"relay"`
	Index   int               `yaml:"index"`
	Labels  map[string]string `yaml:"labels"`
	SSH     SSHConfig         `yaml:"ssh"`
}

type SSHConfig struct {
	User string     `yaml:"user"`
	Auth AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Mode        string `yaml:"mode"`         // "password_env" or "key"
	PasswordEnv string `yaml:"password_env"` // e.g. LABFLEET_PASS_BOX1
	KeyPath     string `yaml:"key_path"`
}

const (
	AuthPasswordEnv = "password_env"
	AuthKey         = "key"
)

func Load(path string) (*Inventory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInventory, path, err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(b, &inv); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInventory, path, err)
	}

	if len(inv.Targets) == 0 {
		return nil, fmt.Errorf("%w: %s contains no targets", ErrInventory, path)
	}

	// normalize defaults
	for i := range inv.Targets {
		t := &inv.Targets[i]
		if t.Labels == nil {
			t.Labels = map[string]string{}
		}
		if t.SSH.User == "" {
			t.SSH.User = "root"
		}
		if t.SSH.Auth.Mode == "" {
			t.SSH.Auth.Mode = AuthPasswordEnv
		}
	}

	if err := inv.validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	seen := make(map[string]struct{}, len(inv.Targets))
	for i := range inv.Targets {
		t := &inv.Targets[i]
		switch {
		case t.Name == "":
			return fmt.Errorf("%w: target %d has no name", ErrInventory, i)
		case t.Address == "":
			return fmt.Errorf("%w: target %q has no address", ErrInventory, t.Name)
		case t.Relay == "":
			return fmt.Errorf("%w: target %q has no relay", ErrInventory, t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: duplicate target name %q", ErrInventory, t.Name)
		}
		seen[t.Name] = struct{}{}

		switch t.SSH.Auth.Mode {
		case AuthPasswordEnv:
			if t.SSH.Auth.PasswordEnv == "" {
				return fmt.Errorf("%w: target %q: auth mode %s needs password_env", ErrInventory, t.Name, AuthPasswordEnv)
			}
		case AuthKey:
			if t.SSH.Auth.KeyPath == "" {
				return fmt.Errorf("%w: target %q: auth mode %s needs key_path", ErrInventory, t.Name, AuthKey)
			}
		default:
			return fmt.Errorf("%w: target %q: unsupported auth mode %q", ErrInventory, t.Name, t.SSH.Auth.Mode)
		}
	}
	return nil
}

// Select returns the subset of targets named in names, preserving inventory
// order. Unknown names are fatal: a re-run against a stale summary should not
// silently shrink the fleet.
func (inv *Inventory) Select(names []string) (*Inventory, error) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	sub := &Inventory{Targets: make([]Target, 0, len(names))}
	for _, t := range inv.Targets {
		if _, ok := want[t.Name]; ok {
			sub.Targets = append(sub.Targets, t)
			delete(want, t.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("%w: unknown target %q in selection", ErrInventory, n)
	}
	if len(sub.Targets) == 0 {
		return nil, fmt.Errorf("%w: selection matched no targets", ErrInventory)
	}
	return sub, nil
}
