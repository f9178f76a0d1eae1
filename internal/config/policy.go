package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML form of the cross-pollination policy. Unset keys
// keep their current value.
type PolicyFile struct {
	Enabled           *bool  `yaml:"enabled"`
	Cooldown          string `yaml:"cooldown"`
	SuppressionTurns  *int   `yaml:"suppression_turns"`
	MinMessages       *int   `yaml:"min_messages"`
	CompletionTimeout string `yaml:"completion_timeout"`
}

func LoadPolicyFile(path string) (PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (PolicyFile, error) {
	var p PolicyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PolicyFile{}, fmt.Errorf("policy: parse: %w", err)
	}
	return p, nil
}

// Apply overlays the file on base.
func (p PolicyFile) Apply(base CrossPoll) (CrossPoll, error) {
	out := base
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.SuppressionTurns != nil {
		out.SuppressionTurns = *p.SuppressionTurns
	}
	if p.MinMessages != nil {
		out.MinMessages = *p.MinMessages
	}
	var err error
	if out.Cooldown, err = parseDuration("cooldown", p.Cooldown, out.Cooldown); err != nil {
		return CrossPoll{}, err
	}
	if out.CompletionTimeout, err = parseDuration("completion_timeout", p.CompletionTimeout, out.CompletionTimeout); err != nil {
		return CrossPoll{}, err
	}
	return out, nil
}

func parseDuration(key, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("policy: %s: %w", key, err)
	}
	return d, nil
}
