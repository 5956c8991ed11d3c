package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// Completer sends one prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// decomposedTask is the JSON structure returned by the model for a single task.
type decomposedTask struct {
	Key            string         `json:"key"`
	TaskType       string         `json:"task_type"`
	Capability     string         `json:"capability"`
	Priority       string         `json:"priority"`
	Input          map[string]any `json:"input"`
	DependsOn      []string       `json:"depends_on"`
	ActionType     string         `json:"action_type"`
	Target         string         `json:"target"`
	ToolName       string         `json:"tool_name"`
	Command        string         `json:"command"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// LLMDecomposer asks a language model to plan the requirement.
type LLMDecomposer struct {
	llm          Completer
	capabilities []string
}

// NewLLM creates a decomposer that offers the given capabilities to the model.
func NewLLM(llm Completer, capabilities []string) *LLMDecomposer {
	return &LLMDecomposer{llm: llm, capabilities: append([]string(nil), capabilities...)}
}

// Plan asks the model for a plan, parses it and validates it.
func (d *LLMDecomposer) Plan(ctx context.Context, requirement string) ([]models.TaskSpec, error) {
	caps := "- (any)"
	if len(d.capabilities) > 0 {
		caps = "- " + strings.Join(d.capabilities, "\n- ")
	}
	prompt := fmt.Sprintf(decompositionPrompt, caps, requirement)

	response, err := d.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("request decomposition: %w", err)
	}

	specs, err := ParseResponse(response)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}
	if err := Validate(specs); err != nil {
		return nil, fmt.Errorf("validate decomposition: %w", err)
	}
	return specs, nil
}

// ParseResponse extracts the JSON task array from a model reply.
// Text around the array is ignored.
func ParseResponse(response string) ([]models.TaskSpec, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		responsePreview := response
		if len(responsePreview) > 500 {
			responsePreview = responsePreview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), responsePreview)
	}

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(decomposed) == 0 {
		return nil, ErrEmptyPlan
	}

	specs := make([]models.TaskSpec, len(decomposed))
	for i, dt := range decomposed {
		priority, ok := models.ParsePriority(strings.ToLower(strings.TrimSpace(dt.Priority)))
		if !ok {
			if dt.Priority != "" {
				log.Printf("[decompose] task %q: unknown priority %q, using medium", dt.Key, dt.Priority)
			}
			priority = models.PriorityMedium
		}
		timeout := time.Duration(0)
		if dt.TimeoutSeconds > 0 {
			timeout = time.Duration(dt.TimeoutSeconds) * time.Second
		}
		specs[i] = models.TaskSpec{
			Key:        dt.Key,
			TaskType:   dt.TaskType,
			Capability: dt.Capability,
			Priority:   priority,
			Input:      dt.Input,
			DependsOn:  dt.DependsOn,
			ActionType: strings.ToLower(dt.ActionType),
			Target:     dt.Target,
			ToolName:   dt.ToolName,
			Command:    dt.Command,
			Timeout:    timeout,
		}
	}
	return specs, nil
}

var _ Decomposer = (*LLMDecomposer)(nil)
