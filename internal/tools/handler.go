package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/taskdeck/internal/audit"
	otelpkg "github.com/basket/taskdeck/internal/otel"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/task"
	"github.com/basket/taskdeck/internal/workspace"
)

// ErrUnknownTool is returned when a call names a tool outside the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Manager          *registry.Manager
	Logger           *slog.Logger
	Tracer           trace.Tracer
	Metrics          *otelpkg.Metrics
	AuditEnabled     bool
	DefaultWorkspace string
}

// Handler validates and dispatches tool calls against per-workspace
// task stores.
type Handler struct {
	manager          *registry.Manager
	catalog          *Catalog
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *otelpkg.Metrics
	auditEnabled     bool
	defaultWorkspace string
}

// NewHandler builds the handler and compiles the tool catalog.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	catalog, err := NewCatalog()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otelpkg.TracerName)
	}
	return &Handler{
		manager:          cfg.Manager,
		catalog:          catalog,
		logger:           logger,
		tracer:           tracer,
		metrics:          cfg.Metrics,
		auditEnabled:     cfg.AuditEnabled,
		defaultWorkspace: cfg.DefaultWorkspace,
	}, nil
}

// Catalog exposes the tool catalog for tools/list.
func (h *Handler) Catalog() *Catalog { return h.catalog }

// Call validates args against the tool's schema and dispatches. Domain
// errors come back typed so the transport can map them to wire codes.
func (h *Handler) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := h.catalog.Get(name)
	if !ok {
		return nil, ErrUnknownTool
	}
	if err := h.catalog.Validate(name, args); err != nil {
		return nil, err
	}

	ctx, span := otelpkg.StartServerSpan(ctx, h.tracer, "tools/"+name,
		otelpkg.AttrToolName.String(name))
	defer span.End()

	start := time.Now()
	result, err := h.dispatch(ctx, name, args)
	dur := time.Since(start)

	if h.metrics != nil {
		attrs := metric.WithAttributes(otelpkg.AttrToolName.String(name))
		h.metrics.ToolCallDuration.Record(ctx, dur.Seconds(), attrs)
		if err != nil {
			h.metrics.ToolCallErrors.Add(ctx, 1, attrs)
		}
	}
	if tool.Mutating && h.auditEnabled {
		audit.Record(ctx, name, workspaceKeyFromArgs(args), taskIDFromArgs(args), dur, err)
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("tool call failed", "tool", name, "error", err, "duration_ms", dur.Milliseconds())
		return nil, err
	}
	h.logger.Debug("tool call ok", "tool", name, "duration_ms", dur.Milliseconds())
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "create_task":
		return h.createTask(ctx, args)
	case "get_task":
		return h.getTask(ctx, args)
	case "update_task":
		return h.updateTask(ctx, args)
	case "list_tasks":
		return h.listTasks(ctx, args)
	case "delete_task":
		return h.deleteTask(ctx, args)
	case "search_tasks":
		return h.searchTasks(ctx, args)
	case "get_task_tree":
		return h.taskTree(ctx, args)
	case "get_blocked_tasks":
		return h.blockedTasks(ctx, args)
	case "get_actionable_tasks":
		return h.actionableTasks(ctx, args)
	case "cleanup_deleted":
		return h.cleanupDeleted(ctx, args)
	case "list_projects":
		return h.listProjects(ctx)
	case "get_project_info":
		return h.projectInfo(ctx, args)
	case "set_project_name":
		return h.setProjectName(ctx, args)
	}
	return nil, ErrUnknownTool
}

// resolveWorkspace honors explicit argument, then $TASKDECK_WORKSPACE,
// then the configured default, then the current directory.
func (h *Handler) resolveWorkspace(explicit string) (workspace.Workspace, error) {
	if explicit == "" && os.Getenv(workspace.EnvVar) == "" {
		explicit = h.defaultWorkspace
	}
	return workspace.Resolve(explicit)
}

func (h *Handler) storeFor(ctx context.Context, explicit string) (*persistence.Store, workspace.Workspace, error) {
	ws, err := h.resolveWorkspace(explicit)
	if err != nil {
		return nil, workspace.Workspace{}, err
	}
	store, err := h.manager.StoreFor(ctx, ws)
	if err != nil {
		return nil, workspace.Workspace{}, err
	}
	return store, ws, nil
}

type createTaskParams struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	ParentTaskID   *int64   `json:"parent_task_id"`
	DependsOn      []int64  `json:"depends_on"`
	Tags           []string `json:"tags"`
	BlockerReason  string   `json:"blocker_reason"`
	FileReferences []string `json:"file_references"`
	CreatedBy      string   `json:"created_by"`
	Workspace      string   `json:"workspace"`
}

func (h *Handler) createTask(ctx context.Context, args json.RawMessage) (any, error) {
	var p createTaskParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}

	draft := &task.Draft{
		Title:          p.Title,
		Description:    p.Description,
		ParentTaskID:   p.ParentTaskID,
		DependsOn:      p.DependsOn,
		Tags:           p.Tags,
		BlockerReason:  p.BlockerReason,
		FileReferences: p.FileReferences,
		CreatedBy:      p.CreatedBy,
	}
	if p.Status != "" {
		status, err := task.ParseStatus(p.Status)
		if err != nil {
			return nil, err
		}
		draft.Status = status
	}
	if p.Priority != "" {
		priority, err := task.ParsePriority(p.Priority)
		if err != nil {
			return nil, err
		}
		draft.Priority = priority
	}
	return store.CreateTask(ctx, draft)
}

type taskRefParams struct {
	ID        int64  `json:"id"`
	Workspace string `json:"workspace"`
}

func (h *Handler) getTask(ctx context.Context, args json.RawMessage) (any, error) {
	var p taskRefParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	return store.GetTask(ctx, p.ID)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// updateTask decodes into a raw key map first: a key that is present
// with a JSON null clears the field, an absent key leaves it unchanged.
func (h *Handler) updateTask(ctx context.Context, args json.RawMessage) (any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}

	var id int64
	if err := json.Unmarshal(raw["id"], &id); err != nil {
		return nil, &task.MalformedError{Field: "id", Reason: err.Error()}
	}
	explicit := ""
	if v, ok := raw["workspace"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &explicit); err != nil {
			return nil, &task.MalformedError{Field: "workspace", Reason: err.Error()}
		}
	}
	store, _, err := h.storeFor(ctx, explicit)
	if err != nil {
		return nil, err
	}

	change, err := changeFromRaw(raw)
	if err != nil {
		return nil, err
	}
	return store.UpdateTask(ctx, id, change)
}

func changeFromRaw(raw map[string]json.RawMessage) (*task.Change, error) {
	change := &task.Change{}

	if v, ok := raw["title"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, &task.MalformedError{Field: "title", Reason: err.Error()}
		}
		change.Title = &s
	}
	if v, ok := raw["description"]; ok {
		if isNull(v) {
			change.ClearDescription = true
		} else {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, &task.MalformedError{Field: "description", Reason: err.Error()}
			}
			change.Description = &s
		}
	}
	if v, ok := raw["status"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, &task.MalformedError{Field: "status", Reason: err.Error()}
		}
		status, err := task.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		change.Status = &status
	}
	if v, ok := raw["priority"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, &task.MalformedError{Field: "priority", Reason: err.Error()}
		}
		priority, err := task.ParsePriority(s)
		if err != nil {
			return nil, err
		}
		change.Priority = &priority
	}
	if v, ok := raw["parent_task_id"]; ok {
		if isNull(v) {
			change.ClearParent = true
		} else {
			var id int64
			if err := json.Unmarshal(v, &id); err != nil {
				return nil, &task.MalformedError{Field: "parent_task_id", Reason: err.Error()}
			}
			change.ParentTaskID = &id
		}
	}
	if v, ok := raw["depends_on"]; ok {
		change.SetDependsOn = true
		if !isNull(v) {
			if err := json.Unmarshal(v, &change.DependsOn); err != nil {
				return nil, &task.MalformedError{Field: "depends_on", Reason: err.Error()}
			}
		}
	}
	if v, ok := raw["tags"]; ok {
		change.SetTags = true
		if !isNull(v) {
			if err := json.Unmarshal(v, &change.Tags); err != nil {
				return nil, &task.MalformedError{Field: "tags", Reason: err.Error()}
			}
		}
	}
	if v, ok := raw["blocker_reason"]; ok {
		var s string
		if !isNull(v) {
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, &task.MalformedError{Field: "blocker_reason", Reason: err.Error()}
			}
		}
		change.BlockerReason = &s
	}
	if v, ok := raw["file_references"]; ok {
		change.SetFiles = true
		if !isNull(v) {
			if err := json.Unmarshal(v, &change.FileReferences); err != nil {
				return nil, &task.MalformedError{Field: "file_references", Reason: err.Error()}
			}
		}
	}
	return change, nil
}

type listTasksParams struct {
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	ParentTaskID *int64 `json:"parent_task_id"`
	Tag          string `json:"tag"`
	Query        string `json:"query"`
	Sort         string `json:"sort"`
	Limit        int    `json:"limit"`
	Workspace    string `json:"workspace"`
}

// taskListResult is the common shape for every multi-task response.
type taskListResult struct {
	Tasks []*task.Task `json:"tasks"`
	Count int          `json:"count"`
}

func listResult(tasks []*task.Task) taskListResult {
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return taskListResult{Tasks: tasks, Count: len(tasks)}
}

func (h *Handler) listTasks(ctx context.Context, args json.RawMessage) (any, error) {
	var p listTasksParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}

	filter := task.Filter{
		ParentTaskID: p.ParentTaskID,
		Tag:          p.Tag,
		Query:        p.Query,
		Sort:         task.SortKey(p.Sort),
		Limit:        p.Limit,
	}
	if p.Status != "" {
		status, err := task.ParseStatus(p.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = &status
	}
	if p.Priority != "" {
		priority, err := task.ParsePriority(p.Priority)
		if err != nil {
			return nil, err
		}
		filter.Priority = &priority
	}
	tasks, err := store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	return listResult(tasks), nil
}

func (h *Handler) deleteTask(ctx context.Context, args json.RawMessage) (any, error) {
	var p taskRefParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	if err := store.SoftDeleteTask(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": p.ID}, nil
}

type searchTasksParams struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
	Workspace string `json:"workspace"`
}

func (h *Handler) searchTasks(ctx context.Context, args json.RawMessage) (any, error) {
	var p searchTasksParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	tasks, err := store.SearchTasks(ctx, p.Query, p.Limit)
	if err != nil {
		return nil, err
	}
	return listResult(tasks), nil
}

func (h *Handler) taskTree(ctx context.Context, args json.RawMessage) (any, error) {
	var p taskRefParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	return store.TaskTree(ctx, p.ID)
}

type workspaceOnlyParams struct {
	Workspace string `json:"workspace"`
}

func (h *Handler) blockedTasks(ctx context.Context, args json.RawMessage) (any, error) {
	var p workspaceOnlyParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	tasks, err := store.BlockedTasks(ctx)
	if err != nil {
		return nil, err
	}
	return listResult(tasks), nil
}

func (h *Handler) actionableTasks(ctx context.Context, args json.RawMessage) (any, error) {
	var p workspaceOnlyParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	tasks, err := store.ActionableTasks(ctx)
	if err != nil {
		return nil, err
	}
	return listResult(tasks), nil
}

type cleanupParams struct {
	OlderThanDays float64 `json:"older_than_days"`
	Workspace     string  `json:"workspace"`
}

func (h *Handler) cleanupDeleted(ctx context.Context, args json.RawMessage) (any, error) {
	var p cleanupParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	store, _, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	age := time.Duration(p.OlderThanDays * 24 * float64(time.Hour))
	purged, err := store.PurgeDeleted(ctx, age)
	if err != nil {
		return nil, err
	}
	if h.metrics != nil {
		h.metrics.TasksPurged.Add(ctx, purged)
	}
	return map[string]any{"purged": purged}, nil
}

func (h *Handler) listProjects(ctx context.Context) (any, error) {
	projects, err := h.manager.Registry().List(ctx)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []*registry.Project{}
	}
	return map[string]any{"projects": projects, "count": len(projects)}, nil
}

func (h *Handler) projectInfo(ctx context.Context, args json.RawMessage) (any, error) {
	var p workspaceOnlyParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	// StoreFor registers the workspace on first touch.
	_, ws, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	return h.manager.Registry().Get(ctx, ws.Key)
}

type setProjectNameParams struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
}

func (h *Handler) setProjectName(ctx context.Context, args json.RawMessage) (any, error) {
	var p setProjectNameParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &task.MalformedError{Field: "arguments", Reason: err.Error()}
	}
	_, ws, err := h.storeFor(ctx, p.Workspace)
	if err != nil {
		return nil, err
	}
	return h.manager.Registry().SetName(ctx, ws.Key, p.Name)
}

// workspaceKeyFromArgs best-effort extracts the audit workspace key.
func workspaceKeyFromArgs(args json.RawMessage) string {
	var p workspaceOnlyParams
	if err := json.Unmarshal(args, &p); err != nil {
		return ""
	}
	ws, err := workspace.Resolve(p.Workspace)
	if err != nil {
		return ""
	}
	return ws.Key
}

// taskIDFromArgs best-effort extracts the target task id for the audit
// line; 0 when the call does not address a single task.
func taskIDFromArgs(args json.RawMessage) int64 {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return 0
	}
	return p.ID
}
