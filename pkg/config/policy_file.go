package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML access policy. Each rule is a CEL expression keyed
// by action name; actions left out keep their built-in rule.
//
//	version: 1
//	rules:
//	  approve: '"manager" in principal.roles && report.amount <= 5000.0'
type PolicyFile struct {
	Version int               `yaml:"version" json:"version"`
	Rules   map[string]string `yaml:"rules" json:"rules"`
}

// LoadPolicy reads and parses a policy file. An empty path yields an empty
// policy.
func LoadPolicy(path string) (*PolicyFile, error) {
	if path == "" {
		return &PolicyFile{Version: 1}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses policy YAML. Unknown top-level keys are rejected.
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var p PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Version != 1 {
		return nil, fmt.Errorf("parse policy: unsupported version %d", p.Version)
	}
	for action, expr := range p.Rules {
		if strings.TrimSpace(expr) == "" {
			return nil, fmt.Errorf("parse policy: rule %q is empty", action)
		}
	}
	return &p, nil
}
