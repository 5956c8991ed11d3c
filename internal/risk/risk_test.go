package risk

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/warden/pkg/models"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New(DefaultRuleSet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestAssess(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name        string
		task        models.Task
		wantScore   float64
		wantFactors int
	}{
		{
			name:      "benign read",
			task:      models.Task{TaskType: "analyze", ActionType: "read", Target: "docs/readme.md"},
			wantScore: 0,
		},
		{
			name:        "destructive command",
			task:        models.Task{TaskType: "cleanup", Command: "rm -rf build && DROP TABLE users"},
			wantScore:   0.5,
			wantFactors: 1,
		},
		{
			name:        "elevated tool",
			task:        models.Task{TaskType: "ops", ToolName: "Kubectl"},
			wantScore:   0.4,
			wantFactors: 1,
		},
		{
			name:        "sensitive target by pattern",
			task:        models.Task{TaskType: "ops", Target: "deploy/prod/app.yaml"},
			wantScore:   0.3,
			wantFactors: 1,
		},
		{
			name:        "action weight",
			task:        models.Task{ActionType: "deploy"},
			wantScore:   0.4,
			wantFactors: 1,
		},
		{
			name: "all rules clamp to one",
			task: models.Task{
				TaskType:   "ops",
				ActionType: "delete",
				ToolName:   "sudo",
				Target:     "/etc/secrets/db",
				Command:    "rm -rf /var/lib/db",
			},
			wantScore:   1,
			wantFactors: 4,
		},
		{
			name:      "verb inside a word does not match",
			task:      models.Task{TaskType: "docs", Command: "confirm the format of the dropdown"},
			wantScore: 0.5,
			// "format" is a whole word here, "confirm" and "dropdown" are not.
			wantFactors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			a, err := e.Assess(&task)
			if err != nil {
				t.Fatalf("Assess: %v", err)
			}
			if math.Abs(a.Score-tt.wantScore) > 1e-9 {
				t.Errorf("expected score %v, got %v (factors %v)", tt.wantScore, a.Score, a.Factors)
			}
			if len(a.Factors) != tt.wantFactors {
				t.Errorf("expected %d factors, got %v", tt.wantFactors, a.Factors)
			}
		})
	}
}

func TestAssess_FactorsNameMatches(t *testing.T) {
	e := newEvaluator(t)
	a, err := e.Assess(&models.Task{TaskType: "x", Command: "DELETE from t; drop table t; delete again"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if len(a.Factors) != 1 || a.Factors[0] != "destructive command: delete, drop" {
		t.Errorf("unexpected factors %v", a.Factors)
	}
}

func TestAssess_Deterministic(t *testing.T) {
	e := newEvaluator(t)
	task := &models.Task{TaskType: "ops", ActionType: "migrate", Target: "billing-db", ToolName: "psql", Command: "truncate ledger"}
	first, _ := e.Assess(task)
	for i := 0; i < 10; i++ {
		again, _ := e.Assess(task)
		if again.Score != first.Score || strings.Join(again.Factors, "|") != strings.Join(first.Factors, "|") {
			t.Fatalf("assessment changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestAssess_Malformed(t *testing.T) {
	e := newEvaluator(t)
	if _, err := e.Assess(nil); !errors.Is(err, ErrMalformedTask) {
		t.Errorf("expected ErrMalformedTask for nil, got %v", err)
	}
	if _, err := e.Assess(&models.Task{Command: "rm -rf /"}); !errors.Is(err, ErrMalformedTask) {
		t.Errorf("expected ErrMalformedTask for empty types, got %v", err)
	}
}

func TestRequiredRole(t *testing.T) {
	e := newEvaluator(t)
	tests := []struct {
		score float64
		want  string
	}{
		{1.0, "security_admin"},
		{0.9, "security_admin"},
		{0.75, "tech_lead"},
		{0.1, "operator"},
	}
	for _, tt := range tests {
		if got := e.RequiredRole(Assessment{Score: tt.score}); got != tt.want {
			t.Errorf("RequiredRole(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestConditions(t *testing.T) {
	e := newEvaluator(t)
	if got := e.Conditions(Assessment{Score: 0.95}); len(got) != 1 || got[0] != "a tested rollback plan exists" {
		t.Errorf("Conditions(0.95) = %v", got)
	}
	if got := e.Conditions(Assessment{Score: 0.75}); len(got) != 0 {
		t.Errorf("Conditions(0.75) = %v, want none", got)
	}

	rs, err := ParseRuleSet([]byte(`
roles:
  - {min_score: 0.5, role: dba, conditions: [snapshot taken, change ticket linked]}
  - {min_score: 0, role: operator}
`))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}
	if err := e.SetRules(rs); err != nil {
		t.Fatal(err)
	}
	got := e.Conditions(Assessment{Score: 0.6})
	if len(got) != 2 || got[0] != "snapshot taken" || got[1] != "change ticket linked" {
		t.Errorf("Conditions(0.6) = %v", got)
	}
	got[0] = "changed"
	if again := e.Conditions(Assessment{Score: 0.6}); again[0] != "snapshot taken" {
		t.Error("Conditions must return a copy")
	}
}

func TestParseRuleSet_OverridesDefaults(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`
elevated_tools:
  weight: 0.8
  terms: [helm]
action_weights:
  archive: 0.2
`))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}
	if rs.ElevatedTools.Weight != 0.8 || len(rs.ElevatedTools.Terms) != 1 {
		t.Errorf("expected elevated tools override, got %+v", rs.ElevatedTools)
	}
	if rs.DestructiveVerbs.Weight != 0.5 {
		t.Errorf("expected destructive verbs default to survive, got %v", rs.DestructiveVerbs.Weight)
	}
	if rs.ActionWeights["archive"] != 0.2 || rs.ActionWeights["delete"] != 0.5 {
		t.Errorf("expected merged action weights, got %v", rs.ActionWeights)
	}
}

func TestParseRuleSet_Invalid(t *testing.T) {
	tests := []string{
		"destructive_verbs: {weight: 1.5}",
		"action_weights: {deploy: -0.1}",
		"sensitive_targets: {patterns: ['[bad']}",
		"roles: [{min_score: 0.5}]",
		"roles: [{min_score: 0.5, role: dba, conditions: ['']}]",
		"destructive_verbs: [not, a, map]",
	}
	for _, in := range tests {
		if _, err := ParseRuleSet([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestLoadRuleSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("action_weights: {read: 0.9}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet: %v", err)
	}
	if err := newEvaluator(t).SetRules(rs); err != nil {
		t.Fatalf("SetRules: %v", err)
	}
	if _, err := LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMatchTarget(t *testing.T) {
	tests := []struct {
		target, pattern string
		want            bool
	}{
		{"deploy/prod/app.yaml", "**/prod/**", true},
		{"prod/app.yaml", "**/prod/**", true},
		{"deploy/production/app.yaml", "**/prod/**", false},
		{"keys/server.pem", "**/*.pem", true},
		{"server.pem", "**/*.pem", true},
		{"a/b/c", "a/*/c", true},
		{"a/b/x/c", "a/*/c", false},
		{"a/b/x/c", "a/**/c", true},
		{".env", "**/.env", true},
	}
	for _, tt := range tests {
		if got := matchTarget(tt.target, tt.pattern); got != tt.want {
			t.Errorf("matchTarget(%q, %q) = %v, want %v", tt.target, tt.pattern, got, tt.want)
		}
	}
}
