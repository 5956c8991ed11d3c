package decompose

// systemPrompt frames the planner; the capability list is appended per call.
const systemPrompt = `You plan work for a team of specialized worker agents. You never do the work yourself.`

// decompositionPrompt is the prompt template for task decomposition.
// Arguments: available capabilities, user requirement.
const decompositionPrompt = `Break this requirement into sub-tasks. Each task is handled by exactly one worker agent.

Available worker capabilities:
%s

Requirement:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "key": "short-unique-key",
    "task_type": "analysis|implementation|review|deployment|...",
    "capability": "one of the capabilities above",
    "priority": "high|medium|low",
    "input": {"any": "structured input for the worker"},
    "depends_on": ["key of a task that must finish first"],
    "action_type": "read|write|execute|delete|deploy|migrate or empty",
    "target": "resource the task acts on, or empty",
    "tool_name": "tool the worker will invoke, or empty",
    "command": "command line the worker will run, or empty",
    "timeout_seconds": 0
  }
]

Guidelines:
- List tasks in the order they should be dispatched
- Only add dependencies when a task needs another task's output
- Use empty array [] for depends_on if there are no dependencies
- Fill action_type, target, tool_name and command truthfully; risky actions are reviewed by a human before they run
- Use timeout_seconds 0 for the default deadline`
