package scoring

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/cynergists/specter/internal/model"
)

// RuleFile is the YAML layout of a rules file.
type RuleFile struct {
	Rules []model.ScoringRule `yaml:"rules"`
}

// LoadFile reads and validates a YAML rules file.
func LoadFile(path string) ([]model.ScoringRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: read rules file %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates YAML rules. Rules default to active unless
// is_active is set to false.
func ParseRules(data []byte) ([]model.ScoringRule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "scoring: parse rules yaml")
	}
	if len(file.Rules) == 0 {
		return nil, eris.New("scoring: rules file defines no rules")
	}

	// Second pass distinguishes an omitted is_active from an explicit false.
	var flags struct {
		Rules []struct {
			IsActive *bool `yaml:"is_active"`
		} `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, eris.Wrap(err, "scoring: parse rules yaml")
	}

	rules := file.Rules
	for i := range rules {
		rules[i].IsActive = flags.Rules[i].IsActive == nil || *flags.Rules[i].IsActive
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// MarshalRules renders rules in the rules file layout.
func MarshalRules(rules []model.ScoringRule) ([]byte, error) {
	out, err := yaml.Marshal(RuleFile{Rules: rules})
	return out, eris.Wrap(err, "scoring: marshal rules yaml")
}
