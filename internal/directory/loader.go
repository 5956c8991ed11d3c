package directory

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/warden/pkg/models"
)

// agentsFile is the on-disk format of a directory file.
type agentsFile struct {
	Agents []models.AgentDescriptor `yaml:"agents"`
}

// LoadAgents reads agent descriptors from a YAML file.
func LoadAgents(path string) ([]models.AgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return ParseAgents(data)
}

// ParseAgents decodes agent descriptors and rejects duplicate ids.
func ParseAgents(data []byte) ([]models.AgentDescriptor, error) {
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	seen := make(map[string]bool, len(f.Agents))
	for i, a := range f.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d: id is required", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("agent %s: duplicate id", a.ID)
		}
		seen[a.ID] = true
	}
	return f.Agents, nil
}

// LoadFile registers every agent in the YAML file.
func (d *Directory) LoadFile(path string) error {
	agents, err := LoadAgents(path)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if err := d.Register(a); err != nil {
			return err
		}
	}
	return nil
}
