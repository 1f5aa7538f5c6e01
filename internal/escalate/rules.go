package escalate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one (predicate, action) pair. The predicate is a case-insensitive
// substring match of any entry in Contains against the diagnostic's last
// error.
type Rule struct {
	Name     string   `yaml:"name"`
	Contains []string `yaml:"contains"`
	Action   Action   `yaml:"action"`
}

// DefaultRules is the built-in ordered rule list. Evaluated first match
// wins; operators can replace it wholesale via a rules file.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "hang", Contains: []string{"timeout", "hang", "no response"}, Action: ActionUseMock},
		{Name: "external", Contains: []string{"api", "fetch", "network", "connection"}, Action: ActionUseMock},
		{Name: "dependency", Contains: []string{"dependen", "module", "import"}, Action: ActionManualReview},
		{Name: "permission", Contains: []string{"permission", "access", "denied"}, Action: ActionRetry},
		{Name: "code", Contains: []string{"syntax", "parse", "type", "compile"}, Action: ActionManualReview},
	}
}

// LoadRules reads an ordered rule list from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	for i, rule := range rules {
		if len(rule.Contains) == 0 {
			return nil, fmt.Errorf("rule %d (%s): empty contains list", i, rule.Name)
		}
		switch rule.Action {
		case ActionRetry, ActionUseMock, ActionManualReview:
		default:
			return nil, fmt.Errorf("rule %d (%s): unknown action %q", i, rule.Name, rule.Action)
		}
	}
	return rules, nil
}
