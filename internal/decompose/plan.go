package decompose

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/warden/pkg/models"
)

// planFile is the on-disk plan format.
type planFile struct {
	Requirement string            `yaml:"requirement"`
	Tasks       []models.TaskSpec `yaml:"tasks"`
}

// PlanFile is a decomposer backed by a YAML plan. The requirement passed
// to Plan is ignored; the file's own requirement is exposed by
// Requirement.
type PlanFile struct {
	path        string
	requirement string
	specs       []models.TaskSpec
}

// LoadPlanFile reads and validates a YAML plan.
func LoadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	p, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	p.path = path
	return p, nil
}

// ParsePlan decodes a YAML plan.
func ParsePlan(data []byte) (*PlanFile, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := Validate(f.Tasks); err != nil {
		return nil, err
	}
	return &PlanFile{requirement: strings.TrimSpace(f.Requirement), specs: f.Tasks}, nil
}

// Requirement returns the requirement recorded in the file, if any.
func (p *PlanFile) Requirement() string {
	return p.requirement
}

// Plan returns the file's tasks.
func (p *PlanFile) Plan(ctx context.Context, requirement string) ([]models.TaskSpec, error) {
	return Static(p.specs).Plan(ctx, requirement)
}

var (
	_ Decomposer = (*PlanFile)(nil)
	_ Decomposer = Static(nil)
	_ Decomposer = Func(nil)
)
