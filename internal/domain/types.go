// Package domain holds the narrow clients for the external collaborators:
// the domain-object store, the permission service, and the autocomplete
// lookup. Everything here is JSON over HTTP, scoped by tenant and bearer
// token.
package domain

// EntityType names the five referenceable entity classes.
type EntityType string

const (
	TypePersonnel EntityType = "personnel"
	TypeWorkOrder EntityType = "work_order"
	TypeTask      EntityType = "task"
	TypeProject   EntityType = "project"
	TypeClient    EntityType = "client"
)

// SymbolFor maps the mention prefix to its entity type.
var SymbolFor = map[rune]EntityType{
	'@': TypePersonnel,
	'#': TypeWorkOrder,
	'/': TypeTask,
	'+': TypeProject,
	'&': TypeClient,
}

// KnownType reports whether s names a referenceable entity type.
func KnownType(s string) bool {
	switch EntityType(s) {
	case TypePersonnel, TypeWorkOrder, TypeTask, TypeProject, TypeClient:
		return true
	}
	return false
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// Task is the task shape exchanged with the store.
type Task struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Status         string   `json:"status,omitempty"`
	Assignees      []string `json:"assignees,omitempty"`
	WorkOrderID    string   `json:"workOrderId,omitempty"`
	ProjectID      string   `json:"projectId,omitempty"`
	ClientID       string   `json:"clientId,omitempty"`
	DueDate        string   `json:"dueDate,omitempty"`
	StartDate      string   `json:"startDate,omitempty"`
	EstimatedHours float64  `json:"estimatedHours,omitempty"`
}

// TaskInput carries the writable fields of a task.
type TaskInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Status         string   `json:"status,omitempty"`
	Assignees      []string `json:"assignees,omitempty"`
	WorkOrderID    string   `json:"workOrderId,omitempty"`
	ProjectID      string   `json:"projectId,omitempty"`
	ClientID       string   `json:"clientId,omitempty"`
	DueDate        string   `json:"dueDate,omitempty"`
	StartDate      string   `json:"startDate,omitempty"`
	EstimatedHours float64  `json:"estimatedHours,omitempty"`
}

// WorkOrder is the work-order shape exchanged with the store.
type WorkOrder struct {
	ID       string `json:"id"`
	Number   string `json:"number"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Person is a member of the tenant's workforce.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Project groups work orders and tasks.
type Project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Client is a customer of the tenant.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkloadSummary is the cross-entity analytics payload.
type WorkloadSummary struct {
	OpenTasks        int            `json:"openTasks"`
	OverdueTasks     int            `json:"overdueTasks"`
	ActiveWorkOrders int            `json:"activeWorkOrders"`
	TasksPerPerson   map[string]int `json:"tasksPerPerson,omitempty"`
}
