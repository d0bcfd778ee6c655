// Package mocktest provides shared test doubles for the external
// collaborators.
package mocktest

import (
	"context"
	"errors"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
)

// MockStore is an in-memory domain.Store.
type MockStore struct {
	Tasks      []domain.Task
	WorkOrders []domain.WorkOrder
	People     []domain.Person
	Projects   []domain.Project
	Clients    []domain.Client
	Summary    domain.WorkloadSummary
	Names      map[string]string

	Created []domain.TaskInput
	Updated map[string]domain.TaskInput

	Err error
}

func NewMockStore() *MockStore {
	return &MockStore{Updated: make(map[string]domain.TaskInput), Names: make(map[string]string)}
}

func (m *MockStore) ListTasks(_ context.Context, _ core.ChatContext, _ map[string]string) ([]domain.Task, error) {
	return m.Tasks, m.Err
}

func (m *MockStore) GetTask(_ context.Context, _ core.ChatContext, id string) (*domain.Task, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.Tasks {
		if m.Tasks[i].ID == id {
			return &m.Tasks[i], nil
		}
	}
	return nil, errors.New("task not found: " + id)
}

func (m *MockStore) CreateTask(_ context.Context, _ core.ChatContext, input domain.TaskInput) (*domain.Task, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.Created = append(m.Created, input)
	return &domain.Task{
		ID:          "64a1f0c2e7b9d4a5c3f2e1ff",
		Title:       input.Title,
		Priority:    input.Priority,
		Assignees:   input.Assignees,
		WorkOrderID: input.WorkOrderID,
		ProjectID:   input.ProjectID,
		ClientID:    input.ClientID,
		DueDate:     input.DueDate,
	}, nil
}

func (m *MockStore) UpdateTask(_ context.Context, _ core.ChatContext, id string, input domain.TaskInput) (*domain.Task, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.Updated[id] = input
	return &domain.Task{ID: id, Title: input.Title}, nil
}

func (m *MockStore) ListWorkOrders(_ context.Context, _ core.ChatContext, _ map[string]string) ([]domain.WorkOrder, error) {
	return m.WorkOrders, m.Err
}

func (m *MockStore) GetWorkOrder(_ context.Context, _ core.ChatContext, id string) (*domain.WorkOrder, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.WorkOrders {
		if m.WorkOrders[i].ID == id {
			return &m.WorkOrders[i], nil
		}
	}
	return nil, errors.New("work order not found: " + id)
}

func (m *MockStore) ListPersonnel(_ context.Context, _ core.ChatContext) ([]domain.Person, error) {
	return m.People, m.Err
}

func (m *MockStore) ListProjects(_ context.Context, _ core.ChatContext) ([]domain.Project, error) {
	return m.Projects, m.Err
}

func (m *MockStore) ListClients(_ context.Context, _ core.ChatContext) ([]domain.Client, error) {
	return m.Clients, m.Err
}

func (m *MockStore) Workload(_ context.Context, _ core.ChatContext) (*domain.WorkloadSummary, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &m.Summary, nil
}

func (m *MockStore) LookupNames(_ context.Context, _ core.ChatContext, _ domain.EntityType, ids []string) (map[string]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	names := make(map[string]string)
	for _, id := range ids {
		if name, ok := m.Names[id]; ok {
			names[id] = name
		}
	}
	return names, nil
}

// MockLookup is an in-memory domain.Lookup keyed by query text.
type MockLookup struct {
	Suggestions map[string][]domain.Suggestion
	Err         error
}

func (m *MockLookup) Autocomplete(_ context.Context, _ core.ChatContext, _ rune, query string) ([]domain.Suggestion, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Suggestions[query], nil
}

// MockPermissions returns a fixed permission set.
type MockPermissions struct {
	Perms []string
	Err   error
}

func (m *MockPermissions) PermissionsFor(_ context.Context, _ core.ChatContext) ([]string, error) {
	return m.Perms, m.Err
}
