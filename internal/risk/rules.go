package risk

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// TermRule adds Weight when any of Terms appears.
type TermRule struct {
	Weight float64  `yaml:"weight"`
	Terms  []string `yaml:"terms"`
}

// TargetRule adds Weight when a target matches a glob pattern or contains a keyword.
type TargetRule struct {
	Weight   float64  `yaml:"weight"`
	Patterns []string `yaml:"patterns"`
	Keywords []string `yaml:"keywords"`
}

// RoleThreshold selects an approver role for scores at or above MinScore.
// Conditions are attached to the approval request and must be accepted by
// whoever approves it.
type RoleThreshold struct {
	MinScore   float64  `yaml:"min_score"`
	Role       string   `yaml:"role"`
	Conditions []string `yaml:"conditions"`
}

// RuleSet is the configurable scoring policy. Each rule category contributes
// its weight at most once; the sum is clamped to [0,1].
type RuleSet struct {
	// DestructiveVerbs are whole words searched in the command text.
	DestructiveVerbs TermRule `yaml:"destructive_verbs"`
	// ElevatedTools are tool names that run with elevated privileges.
	ElevatedTools TermRule `yaml:"elevated_tools"`
	// SensitiveTargets are protected resources.
	SensitiveTargets TargetRule `yaml:"sensitive_targets"`
	// ActionWeights maps an action type to its base weight.
	ActionWeights map[string]float64 `yaml:"action_weights"`
	// Roles are evaluated from the highest MinScore down.
	Roles []RoleThreshold `yaml:"roles"`
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		DestructiveVerbs: TermRule{
			Weight: 0.5,
			Terms: []string{
				"rm", "delete", "drop", "truncate", "destroy", "wipe", "purge",
				"kill", "shutdown", "format", "overwrite", "revoke",
			},
		},
		ElevatedTools: TermRule{
			Weight: 0.4,
			Terms:  []string{"sudo", "shell", "bash", "kubectl", "terraform", "ssh", "docker", "psql"},
		},
		SensitiveTargets: TargetRule{
			Weight: 0.3,
			Patterns: []string{
				"**/prod/**",
				"**/production/**",
				"**/secrets/**",
				"**/credentials/**",
				"**/.ssh/**",
				"**/*.pem",
				"**/*.key",
				"**/.env",
			},
			Keywords: []string{"prod", "secret", "credential", "password", "token", "billing", "payment"},
		},
		ActionWeights: map[string]float64{
			"delete":  0.5,
			"deploy":  0.4,
			"migrate": 0.4,
			"execute": 0.2,
			"write":   0.1,
			"read":    0,
		},
		Roles: []RoleThreshold{
			{MinScore: 0.9, Role: "security_admin", Conditions: []string{"a tested rollback plan exists"}},
			{MinScore: 0.7, Role: "tech_lead"},
			{MinScore: 0, Role: "operator"},
		},
	}
}

// Validate checks weights and thresholds are in range.
func (r RuleSet) Validate() error {
	var errs []error
	check := func(name string, w float64) {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("%s weight %v outside [0,1]", name, w))
		}
	}
	check("destructive_verbs", r.DestructiveVerbs.Weight)
	check("elevated_tools", r.ElevatedTools.Weight)
	check("sensitive_targets", r.SensitiveTargets.Weight)
	for action, w := range r.ActionWeights {
		check("action "+action, w)
	}
	for _, term := range r.DestructiveVerbs.Terms {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, errors.New("destructive_verbs contains an empty term"))
		}
	}
	for _, p := range r.SensitiveTargets.Patterns {
		if err := checkPattern(p); err != nil {
			errs = append(errs, fmt.Errorf("sensitive_targets pattern %q: %w", p, err))
		}
	}
	for _, role := range r.Roles {
		if role.Role == "" {
			errs = append(errs, fmt.Errorf("role threshold %v has no role", role.MinScore))
		}
		for _, c := range role.Conditions {
			if strings.TrimSpace(c) == "" {
				errs = append(errs, fmt.Errorf("role %s has an empty condition", role.Role))
			}
		}
	}
	return errors.Join(errs...)
}

// LoadRuleSet reads a YAML rule file. Categories absent from the file keep
// their default values.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes YAML over the default rules and validates the result.
func ParseRuleSet(data []byte) (RuleSet, error) {
	rs := DefaultRuleSet()
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("invalid rules: %w", err)
	}
	return rs, nil
}

// compiled is a RuleSet prepared for evaluation.
type compiled struct {
	src      RuleSet
	verbs    *regexp.Regexp
	tools    map[string]bool
	keywords []string
	patterns []string
	actions  map[string]float64
	roles    []RoleThreshold
}

func compile(rs RuleSet) (*compiled, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	c := &compiled{
		src:     rs,
		tools:   make(map[string]bool, len(rs.ElevatedTools.Terms)),
		actions: make(map[string]float64, len(rs.ActionWeights)),
	}
	if len(rs.DestructiveVerbs.Terms) > 0 {
		quoted := make([]string, len(rs.DestructiveVerbs.Terms))
		for i, t := range rs.DestructiveVerbs.Terms {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(t)))
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile destructive verbs: %w", err)
		}
		c.verbs = re
	}
	for _, t := range rs.ElevatedTools.Terms {
		c.tools[strings.ToLower(t)] = true
	}
	for _, k := range rs.SensitiveTargets.Keywords {
		c.keywords = append(c.keywords, strings.ToLower(k))
	}
	c.patterns = append(c.patterns, rs.SensitiveTargets.Patterns...)
	for a, w := range rs.ActionWeights {
		c.actions[strings.ToLower(a)] = w
	}
	c.roles = append(c.roles, rs.Roles...)
	sort.SliceStable(c.roles, func(i, j int) bool {
		return c.roles[i].MinScore > c.roles[j].MinScore
	})
	return c, nil
}

// checkPattern surfaces malformed glob syntax at load time.
func checkPattern(pattern string) error {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return err
		}
	}
	return nil
}
