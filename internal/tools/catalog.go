// Package tools defines the callable tool surface: the catalog of tool
// names with their JSON Schemas, boundary validation of incoming
// arguments, and the handlers that dispatch into the task stores.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/taskdeck/internal/task"
)

// Tool is one entry in the catalog. Mutating tools are audited.
type Tool struct {
	Name        string
	Description string
	Mutating    bool
	InputSchema map[string]any

	compiled *jsonschema.Schema
}

// Catalog holds all tools with their compiled schemas.
type Catalog struct {
	tools  []*Tool
	byName map[string]*Tool
}

// NewCatalog builds the catalog and compiles every input schema. A
// schema that fails to compile is a programming error surfaced at
// startup, not at call time.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Tool)}
	for _, t := range toolDefinitions() {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", t.Name, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(t.Name+".json", doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", t.Name, err)
		}
		t.compiled, err = compiler.Compile(t.Name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", t.Name, err)
		}
		c.tools = append(c.tools, t)
		c.byName[t.Name] = t
	}
	return c, nil
}

// Tools returns the catalog entries in declaration order.
func (c *Catalog) Tools() []*Tool { return c.tools }

// Get looks up a tool by name.
func (c *Catalog) Get(name string) (*Tool, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Validate checks raw tool arguments against the tool's input schema.
// Empty arguments validate as an empty object.
func (c *Catalog) Validate(name string, args json.RawMessage) error {
	t, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(args)))
	if err != nil {
		return &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	if err := t.compiled.Validate(inst); err != nil {
		return &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	return nil
}

// Schema fragments shared across tools.

func workspaceProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Absolute workspace path. Omit to use the environment default or current directory.",
	}
}

func taskIDProp() map[string]any {
	return map[string]any{"type": "integer", "minimum": 1, "description": "Task id"}
}

func statusProp() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{"todo", "in_progress", "blocked", "done", "cancelled"},
	}
}

func priorityProp() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{"low", "medium", "high"},
	}
}

func stringArrayProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func idArrayProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "integer", "minimum": 1},
		"description": desc,
	}
}

// nullable wraps a schema so the caller may pass an explicit null to
// clear the field on update.
func nullable(schema map[string]any) map[string]any {
	return map[string]any{"anyOf": []any{schema, map[string]any{"type": "null"}}}
}

func toolDefinitions() []*Tool {
	return []*Tool{
		{
			Name:        "create_task",
			Description: "Create a task in the workspace. Status defaults to todo, priority to medium.",
			Mutating:    true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":           map[string]any{"type": "string", "minLength": 1, "description": "Short task title"},
					"description":     map[string]any{"type": "string", "maxLength": task.MaxDescriptionLen},
					"status":          statusProp(),
					"priority":        priorityProp(),
					"parent_task_id":  taskIDProp(),
					"depends_on":      idArrayProp("Ids of tasks that must be done before this one"),
					"tags":            stringArrayProp("Labels, normalized to lowercase"),
					"blocker_reason":  map[string]any{"type": "string", "description": "Required when status is blocked"},
					"file_references": stringArrayProp("Related file paths, informational only"),
					"created_by":      map[string]any{"type": "string", "description": "Session identifier; defaults to the caller's session"},
					"workspace":       workspaceProp(),
				},
				"required":             []string{"title"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_task",
			Description: "Fetch a task by id, including a soft-deleted tombstone.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        taskIDProp(),
					"workspace": workspaceProp(),
				},
				"required":             []string{"id"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "update_task",
			Description: "Apply a partial update to a task. Omitted fields are unchanged; an explicit null clears the field.",
			Mutating:    true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":              taskIDProp(),
					"title":           map[string]any{"type": "string", "minLength": 1},
					"description":     nullable(map[string]any{"type": "string", "maxLength": task.MaxDescriptionLen}),
					"status":          statusProp(),
					"priority":        priorityProp(),
					"parent_task_id":  nullable(taskIDProp()),
					"depends_on":      nullable(idArrayProp("Replacement dependency set")),
					"tags":            nullable(stringArrayProp("Replacement tag set")),
					"blocker_reason":  nullable(map[string]any{"type": "string"}),
					"file_references": nullable(stringArrayProp("Replacement file reference set")),
					"workspace":       workspaceProp(),
				},
				"required":             []string{"id"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "list_tasks",
			Description: "List active tasks with optional filters, ordered by recency unless a sort is given.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status":         statusProp(),
					"priority":       priorityProp(),
					"parent_task_id": taskIDProp(),
					"tag":            map[string]any{"type": "string"},
					"query":          map[string]any{"type": "string", "description": "Case-insensitive substring over title and description"},
					"sort":           map[string]any{"type": "string", "enum": []string{"recency", "created", "priority"}},
					"limit":          map[string]any{"type": "integer", "minimum": 1},
					"workspace":      workspaceProp(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "delete_task",
			Description: "Soft-delete a task and every dependency link touching it.",
			Mutating:    true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        taskIDProp(),
					"workspace": workspaceProp(),
				},
				"required":             []string{"id"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "search_tasks",
			Description: "Substring search over active task titles and descriptions.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":     map[string]any{"type": "string", "minLength": 1},
					"limit":     map[string]any{"type": "integer", "minimum": 1},
					"workspace": workspaceProp(),
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_task_tree",
			Description: "Fetch a task with its full subtask tree, excluding deleted descendants.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        taskIDProp(),
					"workspace": workspaceProp(),
				},
				"required":             []string{"id"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_blocked_tasks",
			Description: "List active tasks in blocked status with their reasons.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workspace": workspaceProp(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_actionable_tasks",
			Description: "List active todo tasks whose dependencies are all done — the ready-to-start frontier.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workspace": workspaceProp(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "cleanup_deleted",
			Description: "Permanently purge soft-deleted tasks older than the given age. Idempotent.",
			Mutating:    true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"older_than_days": map[string]any{"type": "number", "minimum": 0, "description": "Age threshold in days"},
					"workspace":       workspaceProp(),
				},
				"required":             []string{"older_than_days"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "list_projects",
			Description: "List every registered workspace, most recently accessed first.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_project_info",
			Description: "Fetch the registry entry for a workspace, registering it on first touch.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workspace": workspaceProp(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "set_project_name",
			Description: "Set the friendly name of a workspace's registry entry.",
			Mutating:    true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":      map[string]any{"type": "string", "minLength": 1},
					"workspace": workspaceProp(),
				},
				"required":             []string{"name"},
				"additionalProperties": false,
			},
		},
	}
}
