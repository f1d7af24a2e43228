package permission

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaselineSubsystem is granted at LevelRead to every user holding at least
// one active role.
const BaselineSubsystem = "PROFILE"

//go:embed default_grants.yaml
var defaultGrantsYAML []byte

// Grant is one (subsystem, level) pair attached to a role code.
type Grant struct {
	Subsystem string      `yaml:"subsystem"`
	Level     AccessLevel `yaml:"level"`
}

// SubsystemGrants maps role codes to the subsystem access they imply. It is
// immutable once built.
type SubsystemGrants struct {
	byRole map[string][]Grant
}

type grantsDocument struct {
	Roles map[string][]Grant `yaml:"roles"`
}

// NewSubsystemGrants validates m and returns an immutable copy. Empty codes,
// a level outside read..admin, and a subsystem listed twice for one role
// are rejected.
func NewSubsystemGrants(m map[string][]Grant) (*SubsystemGrants, error) {
	g := &SubsystemGrants{byRole: make(map[string][]Grant, len(m))}
	var errs []error

	for role, grants := range m {
		if strings.TrimSpace(role) == "" {
			errs = append(errs, errors.New("subsystem grants: empty role code"))
			continue
		}
		seen := make(map[string]struct{}, len(grants))
		out := make([]Grant, 0, len(grants))
		for _, gr := range grants {
			code := strings.TrimSpace(gr.Subsystem)
			switch {
			case code == "":
				errs = append(errs, fmt.Errorf("subsystem grants: role %s: empty subsystem code", role))
				continue
			case !gr.Level.Valid() || gr.Level == LevelNone:
				errs = append(errs, fmt.Errorf("subsystem grants: role %s: subsystem %s: invalid level %s", role, code, gr.Level))
				continue
			}
			if _, dup := seen[code]; dup {
				errs = append(errs, fmt.Errorf("subsystem grants: role %s: subsystem %s listed twice", role, code))
				continue
			}
			seen[code] = struct{}{}
			out = append(out, Grant{Subsystem: code, Level: gr.Level})
		}
		g.byRole[role] = out
	}

	if len(errs) > 0 {
		sortErrors(errs)
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// LoadSubsystemGrants parses a YAML document of the form
//
//	roles:
//	  QUALITY_MANAGER:
//	    - {subsystem: EDMS, level: write}
func LoadSubsystemGrants(r io.Reader) (*SubsystemGrants, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc grantsDocument
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("subsystem grants: %w", err)
	}
	return NewSubsystemGrants(doc.Roles)
}

// LoadSubsystemGrantsFile reads grants from a YAML file.
func LoadSubsystemGrantsFile(path string) (*SubsystemGrants, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSubsystemGrants(f)
}

// DefaultSubsystemGrants returns the built-in role map.
func DefaultSubsystemGrants() *SubsystemGrants {
	g, err := LoadSubsystemGrants(bytes.NewReader(defaultGrantsYAML))
	if err != nil {
		panic("permission: invalid built-in subsystem grants: " + err.Error())
	}
	return g
}

// For returns the grants of roleCode. The slice must not be modified.
func (g *SubsystemGrants) For(roleCode string) []Grant {
	if g == nil {
		return nil
	}
	return g.byRole[roleCode]
}

// Roles returns the configured role codes in sorted order.
func (g *SubsystemGrants) Roles() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.byRole))
	for role := range g.byRole {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// MarshalYAML renders the grants in the same shape LoadSubsystemGrants
// reads.
func (g *SubsystemGrants) MarshalYAML() (interface{}, error) {
	return grantsDocument{Roles: g.byRole}, nil
}

func sortErrors(errs []error) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
}
