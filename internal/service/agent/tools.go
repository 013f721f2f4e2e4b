package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"todochat/internal/models"
	"todochat/internal/service/tasks"
)

// taskTools exposes the task service to the model. Every tool resolves
// the owner from the call context and answers with a JSON envelope
// ({"success": ..., "message": ...}) instead of a Go error, so a failed
// operation stays visible to the model as text it can react to.
type taskTools struct {
	tasks *tasks.Service
}

func initTaskTools(taskSvc *tasks.Service) []tool.BaseTool {
	t := &taskTools{tasks: taskSvc}
	return []tool.BaseTool{
		utils.NewTool(&schema.ToolInfo{
			Name: "add_task",
			Desc: "Create a new task with title, optional description, priority, and starred status",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title": {
					Desc:     "Task title, 1-200 characters",
					Type:     schema.String,
					Required: true,
				},
				"description": {
					Desc: "Optional task description, up to 1000 characters",
					Type: schema.String,
				},
				"priority": {
					Desc: "Task priority: low, medium, or high (default medium)",
					Type: schema.String,
				},
				"starred": {
					Desc: "Mark the task as important",
					Type: schema.Boolean,
				},
			}),
		}, t.addTask),
		utils.NewTool(&schema.ToolInfo{
			Name: "list_tasks",
			Desc: "List the user's tasks with an optional status filter",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"status": {
					Desc: "Filter: all, pending, completed, or starred (default all)",
					Type: schema.String,
				},
			}),
		}, t.listTasks),
		utils.NewTool(&schema.ToolInfo{
			Name: "get_task",
			Desc: "Fetch a single task by its ID",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Desc:     "ID of the task",
					Type:     schema.Integer,
					Required: true,
				},
			}),
		}, t.getTask),
		utils.NewTool(&schema.ToolInfo{
			Name: "update_task",
			Desc: "Update a task's title, description, priority, starred, or completed fields; omitted fields keep their values",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Desc:     "ID of the task to update",
					Type:     schema.Integer,
					Required: true,
				},
				"title":       {Desc: "New title", Type: schema.String},
				"description": {Desc: "New description", Type: schema.String},
				"priority":    {Desc: "New priority: low, medium, high", Type: schema.String},
				"starred":     {Desc: "New starred flag", Type: schema.Boolean},
				"completed":   {Desc: "New completed flag", Type: schema.Boolean},
			}),
		}, t.updateTask),
		utils.NewTool(&schema.ToolInfo{
			Name: "complete_task",
			Desc: "Toggle a task's completion status by its ID",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Desc:     "ID of the task to toggle",
					Type:     schema.Integer,
					Required: true,
				},
			}),
		}, t.completeTask),
		utils.NewTool(&schema.ToolInfo{
			Name: "delete_task",
			Desc: "Permanently delete a task by its ID",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Desc:     "ID of the task to delete",
					Type:     schema.Integer,
					Required: true,
				},
			}),
		}, t.deleteTask),
	}
}

var errNoOwner = errors.New("no task owner bound to tool call")

type addTaskParams struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Starred     bool   `json:"starred,omitempty"`
}

func (t *taskTools) addTask(ctx context.Context, params *addTaskParams) (string, error) {
	ownerID, ok := OwnerFromContext(ctx)
	if !ok {
		return "", errNoOwner
	}
	task, err := t.tasks.Create(ctx, ownerID, params.Title, params.Description, models.Priority(params.Priority), params.Starred)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to create task: %v", err)), nil
	}
	return successResult(fmt.Sprintf("Task %q created successfully", task.Title), envelope{
		"task_id": task.ID,
		"task":    task,
	}), nil
}

type listTasksParams struct {
	Status string `json:"status,omitempty"`
}

func (t *taskTools) listTasks(ctx context.Context, params *listTasksParams) (string, error) {
	ownerID, ok := OwnerFromContext(ctx)
	if !ok {
		return "", errNoOwner
	}
	status := params.Status
	if status == "" {
		status = "all"
	}
	var completed *bool
	switch status {
	case "all", "starred":
	case "pending":
		f := false
		completed = &f
	case "completed":
		f := true
		completed = &f
	default:
		return errorResult("Status must be one of: all, pending, completed, starred"), nil
	}

	list, err := t.tasks.List(ctx, ownerID, completed)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}
	if status == "starred" {
		starred := list[:0]
		for _, task := range list {
			if task.Starred {
				starred = append(starred, task)
			}
		}
		list = starred
	}
	if list == nil {
		list = []models.Task{}
	}
	return successResult(fmt.Sprintf("Retrieved %d tasks", len(list)), envelope{
		"task_count":    len(list),
		"tasks":         list,
		"status_filter": status,
	}), nil
}

type taskIDParams struct {
	TaskID int64 `json:"task_id"`
}

func (t *taskTools) getTask(ctx context.Context, params *taskIDParams) (string, error) {
	ownerID, ok := OwnerFromContext(ctx)
	if !ok {
		return "", errNoOwner
	}
	task, err := t.tasks.GetByID(ctx, params.TaskID, ownerID)
	if err != nil {
		return errorResult("Task not found"), nil
	}
	return successResult(fmt.Sprintf("Retrieved task %q", task.Title), envelope{
		"task_id": task.ID,
		"task":    task,
	}), nil
}

type updateTaskParams struct {
	TaskID      int64   `json:"task_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Starred     *bool   `json:"starred,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

func (t *taskTools) updateTask(ctx context.Context, params *updateTaskParams) (string, error) {
	ownerID, ok := OwnerFromContext(ctx)
	if !ok {
		return "", errNoOwner
	}
	task, err := t.tasks.GetByID(ctx, params.TaskID, ownerID)
	if err != nil {
		return errorResult("Task not found"), nil
	}
	update := tasks.UpdateParams{
		Title:       params.Title,
		Description: params.Description,
		Completed:   params.Completed,
		Starred:     params.Starred,
	}
	if params.Priority != nil {
		p := models.Priority(*params.Priority)
		update.Priority = &p
	}
	updated, err := t.tasks.Update(ctx, task, ownerID, update)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to update task: %v", err)), nil
	}
	return successResult(fmt.Sprintf("Task %q updated successfully", updated.Title), envelope{
		"task_id": updated.ID,
		"task":    updated,
	}), nil
}

func (t *taskTools) completeTask(ctx context.Context, params *taskIDParams) (string, error) {
	ownerID, ok := OwnerFromContext(ctx)
	if !ok {
		return "", errNoOwner
	}
	task, err := t.tasks.GetByID(ctx, params.TaskID, ownerID)
	if err != nil {
		return errorResult("Task not found"), nil
	}
	updated, err := t.tasks.ToggleComplete(ctx, task, ownerID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to toggle task: %v", err)), nil
	}
	state := "pending"
	if updated.Completed {
		state = "completed"
	}
	return successResult(fmt.Sprintf("Task %q is now %s", updated.Title, state), envelope{
		"task_id":   updated.ID,
		"completed": updated.Completed,
	}), nil
}

func (t *taskTools) deleteTask(ctx context.Context, params *taskIDParams) (string, error) {
	ownerID, ok := OwnerFromContext(ctx)
	if !ok {
		return "", errNoOwner
	}
	task, err := t.tasks.GetByID(ctx, params.TaskID, ownerID)
	if err != nil {
		return errorResult("Task not found"), nil
	}
	if err := t.tasks.Delete(ctx, task, ownerID); err != nil {
		return errorResult(fmt.Sprintf("Failed to delete task: %v", err)), nil
	}
	return successResult(fmt.Sprintf("Task %q deleted", task.Title), envelope{
		"task_id": task.ID,
	}), nil
}

type envelope map[string]interface{}

func successResult(message string, extra envelope) string {
	payload := envelope{"success": true, "message": message}
	for k, v := range extra {
		payload[k] = v
	}
	return marshalResult(payload)
}

func errorResult(message string) string {
	return marshalResult(envelope{"success": false, "error": message, "message": message})
}

func marshalResult(payload envelope) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success":false,"error":"internal encoding failure"}`
	}
	return string(data)
}
