// Package tools defines the operations the model may call and executes
// them against the store with ownership enforcement.
package tools

import "github.com/velvetlab/taskpilot/internal/llm"

// Tool names. The executor's dispatch switch covers exactly this set.
const (
	ToolAddTask        = "add_task"
	ToolListTasks      = "list_tasks"
	ToolCompleteTask   = "complete_task"
	ToolDeleteTask     = "delete_task"
	ToolUpdateTask     = "update_task"
	ToolGetUserProfile = "get_user_profile"
)

var catalog = []llm.Tool{
	{
		Name:        ToolAddTask,
		Description: "Create a new task for the authenticated user. Use this when the user wants to add, create, or make a new todo item.",
		ParameterDefinitions: map[string]llm.ParamDef{
			"title": {
				Type:        "string",
				Description: "The title or name of the task. This is the main description of what needs to be done.",
				Required:    true,
			},
			"description": {
				Type:        "string",
				Description: "Optional detailed description or notes about the task. Provides additional context.",
				Required:    false,
			},
		},
	},
	{
		Name:        ToolListTasks,
		Description: "List tasks. The tool returns a formatted table in a fenced code block. Display it exactly as provided.",
		ParameterDefinitions: map[string]llm.ParamDef{
			"status": {
				Type:        "string",
				Description: "Filter: 'pending', 'completed', or omit for all",
				Required:    false,
			},
		},
	},
	{
		Name:        ToolCompleteTask,
		Description: "Mark a task as completed. Use this when the user indicates they have finished or completed a task.",
		ParameterDefinitions: map[string]llm.ParamDef{
			"task_id": {
				Type:        "string",
				Description: "The unique identifier (UUID) of the task to mark as complete.",
				Required:    true,
			},
		},
	},
	{
		Name:        ToolDeleteTask,
		Description: "Permanently delete a task. Use this when the user wants to remove or delete a task from their list.",
		ParameterDefinitions: map[string]llm.ParamDef{
			"task_id": {
				Type:        "string",
				Description: "The unique identifier (UUID) of the task to delete.",
				Required:    true,
			},
		},
	},
	{
		Name:        ToolUpdateTask,
		Description: "Update one or more fields of an existing task. Use this when the user wants to change, modify, or edit a task.",
		ParameterDefinitions: map[string]llm.ParamDef{
			"task_id": {
				Type:        "string",
				Description: "The unique identifier (UUID) of the task to update.",
				Required:    true,
			},
			"title": {
				Type:        "string",
				Description: "New title for the task",
				Required:    false,
			},
			"description": {
				Type:        "string",
				Description: "New description for the task",
				Required:    false,
			},
			"completed": {
				Type:        "boolean",
				Description: "New completion status",
				Required:    false,
			},
		},
	},
	{
		Name:        ToolGetUserProfile,
		Description: "Retrieve the authenticated user's profile information including ID, email, name, and account creation date. Use this when the user asks about their account, email, name, or profile.",
		ParameterDefinitions: map[string]llm.ParamDef{},
	},
}

// Catalog returns the static tool catalog as a fresh slice so callers
// cannot mutate the registry.
func Catalog() []llm.Tool {
	out := make([]llm.Tool, len(catalog))
	copy(out, catalog)
	return out
}
