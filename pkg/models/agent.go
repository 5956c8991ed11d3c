package models

import "time"

// AgentStatus represents the directory state of a worker agent.
type AgentStatus string

const (
	// AgentStatusActive indicates the agent accepts work.
	AgentStatusActive AgentStatus = "active"
	// AgentStatusInactive indicates the agent is registered but switched off.
	AgentStatusInactive AgentStatus = "inactive"
	// AgentStatusMaintenance indicates the agent is temporarily unavailable.
	AgentStatusMaintenance AgentStatus = "maintenance"
	// AgentStatusError indicates the last liveness probe failed.
	AgentStatusError AgentStatus = "error"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusActive, AgentStatusInactive, AgentStatusMaintenance, AgentStatusError:
		return true
	default:
		return false
	}
}

// AgentDescriptor is a directory entry for a reachable worker.
type AgentDescriptor struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable label.
	Name string `json:"name" yaml:"name"`
	// Capabilities lists the capabilities and task types the agent serves.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	// Endpoint is the transport address, e.g. ws://host:port/task or inproc://name.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Status is the directory state of the agent.
	Status AgentStatus `json:"status" yaml:"status"`
	// Version is the worker's self-reported version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// LastSeen is the time of the last successful probe.
	LastSeen time.Time `json:"last_seen,omitempty" yaml:"-"`
}

// HasCapability reports whether the agent serves the given capability.
func (a *AgentDescriptor) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the descriptor.
func (a AgentDescriptor) Clone() AgentDescriptor {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a
}
