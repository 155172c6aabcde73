package resolve

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy adjusts the resolver without changing code: per-field severity
// overrides and strategy disables, loaded from a YAML file such as
//
//	severities:
//	  display_name: error
//	  "constraint:indexed": info
//	disabled_strategies:
//	  - union_allowed_values
//
// Overrides change how conflicts are graded, never what the strategies
// compute, so resolution stays deterministic under any policy.
type Policy struct {
	Severities map[string]Severity
	Disabled   map[string]bool
}

// policyFile is the raw YAML shape before validation.
type policyFile struct {
	Severities map[string]string `yaml:"severities"`
	Disabled   []string          `yaml:"disabled_strategies"`
}

// LoadPolicy reads and validates a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates policy YAML. Unknown severity names and
// unknown strategy names are load-time errors, not silent no-ops.
func ParsePolicy(data []byte) (*Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	p := &Policy{
		Severities: make(map[string]Severity, len(pf.Severities)),
		Disabled:   make(map[string]bool, len(pf.Disabled)),
	}
	for field, name := range pf.Severities {
		sev, err := ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("policy severity for %q: %w", field, err)
		}
		p.Severities[field] = sev
	}
	for _, name := range pf.Disabled {
		if !knownStrategy(name) {
			return nil, fmt.Errorf("policy disables unknown strategy %q", name)
		}
		p.Disabled[name] = true
	}
	return p, nil
}
